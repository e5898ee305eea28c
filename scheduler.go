// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Scheduler owns the event channel, the pending-event accounting, the timer
// table, the worker list, and the process watcher for one run. Obtain one
// via [Run] (preferred) or [New], and pass it explicitly to fibers; there is
// no global.
type Scheduler struct {
	_ [0]func() // prevent equality comparison

	events *eventQueue

	// pending counts cells that have been promised a fill through the event
	// channel but whose event has not yet been delivered. It gates the
	// driver's deadlock promotion: zero pending with every fiber suspended
	// means nothing can ever unblock the run.
	pending atomic.Int64
	// live counts fiber goroutines (root plus detached).
	live atomic.Int64
	// blocked counts fibers currently suspended at a primitive.
	blocked atomic.Int64

	rootDone  atomic.Bool
	running   atomic.Bool
	aborted   atomic.Bool
	abortOnce sync.Once

	// stopCh is closed after the driver exits and teardown completes,
	// releasing any fiber still parked at a primitive.
	stopCh chan struct{}

	// timeMu guards the timer table, the sleeper list, and Timer delays.
	timeMu     sync.Mutex
	timers     map[uint64]*activeTimer
	sleepers   []*sleeper
	idSeq      uint64
	armSeq     uint64
	resolution time.Duration
	timerStop  chan struct{}
	timerDone  chan struct{}

	workersMu sync.Mutex
	workers   []*Thread

	watcher *processWatcher

	logger *logiface.Logger[logiface.Event]
	stats  statCounters

	ctx context.Context

	detachMu    sync.Mutex
	detachedErr error
}

// New constructs a scheduler without starting it. Most callers should use
// [Run], which constructs, starts, drives, and tears down in one call.
func New(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		events:     newEventQueue(),
		stopCh:     make(chan struct{}),
		timers:     make(map[uint64]*activeTimer),
		resolution: cfg.resolution,
		logger:     cfg.logger,
		ctx:        context.Background(),
	}
	s.watcher = newProcessWatcher(s)
	return s, nil
}

// Run constructs a scheduler, starts its timer loop and process watcher,
// runs root as the root fiber, and drives events until the root completes
// and all promised fills have been delivered.
//
// The returned error is nil, an option validation error (the run does not
// start), the root fiber's error, a [*PanicError] if the root panicked,
// [ErrAbortRequested] after [Scheduler.Abort] or context cancellation, or
// [ErrNever] if the run deadlocked.
func Run[T any](ctx context.Context, root func(context.Context, *Scheduler) (T, error), opts ...Option) (T, error) {
	var zero T
	s, err := New(opts...)
	if err != nil {
		return zero, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx = ctx
	s.start()

	go func() {
		select {
		case <-ctx.Done():
			s.Abort()
		case <-s.stopCh:
		}
	}()

	var rootVal T
	var rootErr error
	s.live.Store(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				rootErr = &PanicError{Value: r}
			}
			s.rootDone.Store(true)
			s.live.Add(-1)
			s.events.broadcast()
		}()
		rootVal, rootErr = root(ctx, s)
	}()

	driveErr := s.drive()
	if driveErr == nil {
		// Clean exits leave no promised fills behind.
		if n := s.pending.Load(); n != 0 {
			panic(`fibersched: pending event count nonzero at clean exit`)
		}
		if !s.events.isEmpty() {
			panic(`fibersched: event channel not empty at clean exit`)
		}
	}
	s.teardown()
	if driveErr != nil {
		return zero, driveErr
	}
	return rootVal, rootErr
}

// start launches the background loops. Callers of New may use this together
// with drive and teardown; Run wires them for you.
func (s *Scheduler) start() {
	s.running.Store(true)
	s.timerStop = make(chan struct{})
	s.timerDone = make(chan struct{})
	go s.timerLoop()
	s.watcher.start()
}

// drive is the fiber driver: the sole consumer of the event channel. It
// dequeues events one at a time and executes their fills, which unblock
// suspended fibers. It returns nil once the root fiber has completed and
// every promised fill has been delivered, ErrAbortRequested when the abort
// sentinel is dequeued (or the channel was closed under it), and ErrNever
// when no pending events remain while every fiber is suspended.
func (s *Scheduler) drive() error {
	idle := func() bool {
		return s.pending.Load() == 0 && s.blocked.Load() >= s.live.Load()
	}
	for {
		ev, status := s.events.get(idle)
		switch status {
		case getClosed:
			return ErrAbortRequested
		case getIdle:
			if s.rootDone.Load() {
				return nil
			}
			s.logger.Err().
				Int64(`live`, s.live.Load()).
				Log(`no pending events and all fibers blocked`)
			return ErrNever
		}
		if ev.abort {
			return ErrAbortRequested
		}
		if s.pending.Add(-1) < 0 {
			panic(`fibersched: negative pending event count`)
		}
		s.stats.eventsDelivered.Add(1)
		ev.fill()
	}
}

// teardown stops the background loops and workers, kills residual children,
// and finally releases any fiber still parked at a primitive.
func (s *Scheduler) teardown() {
	s.running.Store(false)
	s.events.closeQueue()

	close(s.timerStop)
	<-s.timerDone
	s.cancelTimers()

	s.workersMu.Lock()
	workers := make([]*Thread, len(s.workers))
	copy(workers, s.workers)
	s.workersMu.Unlock()
	for _, t := range workers {
		t.Stop()
	}

	s.watcher.shutdown()

	close(s.stopCh)
}

// Abort requests termination: the terminal abort sentinel is enqueued and
// the event channel is closed. The driver returns [ErrAbortRequested] as
// soon as it reaches the sentinel. Subsequent calls are no-ops.
func (s *Scheduler) Abort() {
	s.abortOnce.Do(func() {
		s.aborted.Store(true)
		s.logger.Debug().Log(`abort requested`)
		s.events.sendAbortAndClose()
	})
}

// Detach launches fn as a background fiber. Its failure (error return or
// panic) is surfaced asynchronously: logged, counted in [Stats], and the
// first such failure is retrievable via [Scheduler.DetachedErr]. The fiber
// holds one pending event for its lifetime so the driver does not
// spuriously diagnose a deadlock while it runs.
func (s *Scheduler) Detach(fn func(context.Context, *Scheduler) error) {
	s.stats.detachedFibers.Add(1)
	s.pending.Add(1)
	s.live.Add(1)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r}
			}
			if err != nil {
				s.noteDetachedFailure(err)
			}
			if !s.events.send(event{fill: func() { s.live.Add(-1) }}) {
				s.pending.Add(-1)
				s.live.Add(-1)
				s.events.broadcast()
			}
		}()
		err = fn(s.ctx, s)
	}()
}

func (s *Scheduler) noteDetachedFailure(err error) {
	s.stats.detachedFailures.Add(1)
	s.detachMu.Lock()
	if s.detachedErr == nil {
		s.detachedErr = err
	}
	s.detachMu.Unlock()
	s.logger.Err().Err(err).Log(`detached fiber failed`)
}

// DetachedErr returns the first failure of any detached fiber, or nil.
func (s *Scheduler) DetachedErr() error {
	s.detachMu.Lock()
	defer s.detachMu.Unlock()
	return s.detachedErr
}

// blockFiber records the calling fiber as suspended and wakes the driver so
// it re-evaluates its idle predicate.
func (s *Scheduler) blockFiber() {
	s.blocked.Add(1)
	s.events.broadcast()
}

func (s *Scheduler) unblockFiber() {
	s.blocked.Add(-1)
}
