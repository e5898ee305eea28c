package fibersched

import (
	"context"
	"fmt"
)

// taskOutcome carries a worker job's result into its completion cell.
type taskOutcome[T any] struct {
	val T
	err error
}

// Task is the handle returned by [Async]: a completion cell plus the ticket
// needed to revoke the job while it is still queued.
type Task[T any] struct {
	_    [0]func() // prevent equality comparison
	th   *Thread
	j    *job
	cell *Cell[taskOutcome[T]]
}

// Async submits fn to run on worker t and returns a handle to await or
// cancel it. Returns [ErrStopped] if the worker was stopped.
//
// A panic in fn does not kill the worker; it is captured as a
// [*PanicError] and surfaces from [Task.Await].
func Async[T any](t *Thread, fn func() (T, error)) (*Task[T], error) {
	s := t.s
	tk := &Task[T]{th: t, cell: NewCell[taskOutcome[T]]()}
	cell := tk.cell
	tk.j = &job{run: func() {
		out := protect(fn)
		s.stats.jobsExecuted.Add(1)
		if _, ok := out.err.(*PanicError); ok {
			s.stats.jobPanics.Add(1)
			s.logger.Debug().Err(out.err).Log(`worker job panicked`)
		}
		if !s.events.send(event{fill: func() { cell.Fill(out) }}) {
			cell.Fill(out)
			s.pending.Add(-1)
			s.events.broadcast()
		}
	}}
	if err := t.addWork(tk.j); err != nil {
		return nil, err
	}
	return tk, nil
}

// AsyncExn is [Async] promoting submission failure to a panic, for call
// sites where a stopped worker is a programmer error.
func AsyncExn[T any](t *Thread, fn func() (T, error)) *Task[T] {
	tk, err := Async(t, fn)
	if err != nil {
		panic(fmt.Errorf(`fibersched: async on stopped worker: %w`, err))
	}
	return tk
}

func protect[T any](fn func() (T, error)) (out taskOutcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			out = taskOutcome[T]{err: &PanicError{Value: r}}
		}
	}()
	out.val, out.err = fn()
	return
}

// Await suspends the calling fiber until the task completes. If ctx is
// cancelled first, the task is cancelled (succeeding only if it has not
// started) and Await keeps waiting for the cell, which is then guaranteed
// to be filled with either [ErrCancelled] or the job's actual outcome.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	s := t.th.s
	c := t.cell
	if out, ok := c.TryGet(); ok {
		return out.val, out.err
	}
	s.blockFiber()
	c.mu.Lock()
	if c.filled {
		out := c.val
		c.mu.Unlock()
		s.unblockFiber()
		return out.val, out.err
	}
	c.waiters = append(c.waiters, s)
	c.mu.Unlock()
	var ctxDone <-chan struct{}
	if ctx != nil {
		ctxDone = ctx.Done()
	}
	for {
		select {
		case <-c.done:
			out := c.val
			return out.val, out.err
		case <-ctxDone:
			ctxDone = nil
			t.Cancel()
		case <-s.stopCh:
			if out, ok := c.forgetWaiter(s); ok {
				return out.val, out.err
			}
			s.unblockFiber()
			var zero T
			return zero, ErrSchedulerStopped
		}
	}
}

// AwaitNoCancel suspends the calling fiber until the task completes,
// ignoring context cancellation entirely.
func (t *Task[T]) AwaitNoCancel() (T, error) {
	out, err := awaitCell(t.th.s, t.cell)
	if err != nil {
		var zero T
		return zero, err
	}
	return out.val, out.err
}

// Cancel revokes the task if the worker has not yet consumed it, filling
// the cell with [ErrCancelled] through normal event delivery. Once the job
// has started, Cancel is a no-op and the job's outcome stands. Safe to call
// more than once.
func (t *Task[T]) Cancel() {
	if !t.th.cancelIfNotConsumed(t.j) {
		return
	}
	s := t.th.s
	s.stats.jobsCancelled.Add(1)
	cell := t.cell
	if !s.events.send(event{fill: func() { cell.Fill(taskOutcome[T]{err: ErrCancelled}) }}) {
		cell.Fill(taskOutcome[T]{err: ErrCancelled})
		s.pending.Add(-1)
		s.events.broadcast()
	}
}
