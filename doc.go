// Package fibersched implements a cooperative-task scheduler: a small
// runtime that drives user-defined asynchronous computations (fibers) to
// completion while coordinating with blocking OS-level work performed on
// worker goroutines, wall-clock timers, and child-process reaping.
//
// A scheduler integrates four independently-clocked concurrency sources into
// one event stream consumed by a single driver:
//
//   - Fibers, launched by [Run] (the root fiber) and [Scheduler.Detach].
//     Fibers suspend only at named primitives (awaiting a task, reading a
//     cell, [Scheduler.Sleep], [Schedule], [Scheduler.WaitForProcess]).
//   - Workers ([Thread]), each owning one goroutine and a FIFO job queue for
//     opaque blocking work submitted via [Async].
//   - A timer loop that wakes armed timers and sleepers at a coarse,
//     configurable resolution (see [WithTimerResolution]).
//   - A process watcher that reaps exited children and publishes their exit
//     statuses.
//
// Completions from every source are delivered as events, in FIFO order, to
// the driver hosted by [Run]. The driver maintains a pending-event count; if
// the count reaches zero while every fiber is suspended, the run is promoted
// to a detectable failure ([ErrNever]) instead of deadlocking. Calling
// [Scheduler.Abort] terminates the run promptly with [ErrAbortRequested].
//
// Basic usage:
//
//	sum, err := fibersched.Run(ctx, func(ctx context.Context, s *fibersched.Scheduler) (int, error) {
//		th, err := s.NewThread()
//		if err != nil {
//			return 0, err
//		}
//		defer th.Stop()
//		a, _ := fibersched.Async(th, func() (int, error) { return blockingWork(), nil })
//		b, _ := fibersched.Async(th, func() (int, error) { return moreBlockingWork(), nil })
//		x, err := a.Await(ctx)
//		if err != nil {
//			return 0, err
//		}
//		y, err := b.Await(ctx)
//		if err != nil {
//			return 0, err
//		}
//		return x + y, nil
//	})
//
// Timers support debounce: re-arming a timer via [Schedule] before it fires
// displaces the previous arming, whose caller observes [ErrCancelled]. Only
// the latest closure runs.
package fibersched
