// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import "sync"

// job is one unit of blocking work queued on a Thread. A job runs at most
// once; cancellation succeeds only while it is still queued.
type job struct {
	run func()
}

// Thread owns one goroutine draining a FIFO job queue of blocking work
// submitted via [Async]. Threads are owned by the scheduler: they are
// stopped (drained and joined) automatically at the end of a run, or
// explicitly via [Thread.Stop].
type Thread struct {
	_       [0]func() // prevent equality comparison
	s       *Scheduler
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*job
	done    chan struct{}
	stopped bool
}

// NewThread creates a worker and starts its goroutine. Requires a running
// scheduler.
func (s *Scheduler) NewThread() (*Thread, error) {
	if !s.running.Load() {
		return nil, ErrSchedulerStopped
	}
	t := &Thread{s: s, done: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	s.workersMu.Lock()
	s.workers = append(s.workers, t)
	s.workersMu.Unlock()
	go t.loop()
	return t, nil
}

func (t *Thread) loop() {
	defer close(t.done)
	for {
		t.mu.Lock()
		for len(t.queue) == 0 && !t.stopped {
			t.cond.Wait()
		}
		if len(t.queue) == 0 {
			t.mu.Unlock()
			return
		}
		j := t.queue[0]
		copy(t.queue, t.queue[1:])
		t.queue[len(t.queue)-1] = nil
		t.queue = t.queue[:len(t.queue)-1]
		t.mu.Unlock()
		j.run()
	}
}

// addWork enqueues j. The scheduler's pending event count is incremented
// before the job becomes observable to the worker.
func (t *Thread) addWork(j *job) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrStopped
	}
	t.s.pending.Add(1)
	t.queue = append(t.queue, j)
	t.cond.Signal()
	t.mu.Unlock()
	return nil
}

// cancelIfNotConsumed removes j from the queue if the worker has not yet
// popped it. On success the caller owns the cancelled fill and the pending
// unit promised by addWork.
func (t *Thread) cancelIfNotConsumed(j *job) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, q := range t.queue {
		if q == j {
			copy(t.queue[i:], t.queue[i+1:])
			t.queue[len(t.queue)-1] = nil
			t.queue = t.queue[:len(t.queue)-1]
			return true
		}
	}
	return false
}

// Stop refuses new work, drains the queue to completion, then joins the
// worker goroutine. Safe to call more than once, from any goroutine.
func (t *Thread) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.cond.Broadcast()
	t.mu.Unlock()
	<-t.done
}
