// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import (
	"sort"
	"time"
)

// Timer is a debounced one-shot timer. Each timer has at most one active
// arming at any moment; re-arming via [Schedule] displaces the previous
// arming, whose caller observes [ErrCancelled].
type Timer struct {
	_  [0]func() // prevent equality comparison
	s  *Scheduler
	id uint64
	// delay is guarded by s.timeMu.
	delay time.Duration
}

// activeTimer materializes one arming of a Timer. The deadline is a
// snapshot of the timer's delay taken when the arming was created; a later
// SetDelay does not move it.
type activeTimer struct {
	armedAt  time.Time
	deadline time.Time
	seq      uint64
	cell     *Cell[error]
}

// sleeper is a one-shot wake-up; never cancelled individually.
type sleeper struct {
	wakeAt time.Time
	seq    uint64
	cell   *Cell[error]
}

// NewTimer allocates a timer with a fresh id. No scheduling side effect.
func (s *Scheduler) NewTimer(delay time.Duration) *Timer {
	s.timeMu.Lock()
	s.idSeq++
	id := s.idSeq
	s.timeMu.Unlock()
	return &Timer{s: s, id: id, delay: delay}
}

// SetDelay changes the delay used by future armings. It has no effect on a
// currently armed timer: the armed deadline is not recomputed until the
// next [Schedule].
func (t *Timer) SetDelay(delay time.Duration) {
	t.s.timeMu.Lock()
	t.delay = delay
	t.s.timeMu.Unlock()
}

// Schedule arms t and suspends the calling fiber until the arming fires or
// is cancelled. On fire, fn runs on the calling fiber and its result is
// returned. A displaced or cancelled arming returns [ErrCancelled] without
// running fn.
//
// Rapid re-schedules of the same timer collapse, keeping only the latest:
// this is the debounce primitive. The surviving arming fires t's delay
// after the latest Schedule call.
func Schedule[T any](t *Timer, fn func() (T, error)) (T, error) {
	var zero T
	s := t.s
	cell := NewCell[error]()
	var displaced *Cell[error]
	s.timeMu.Lock()
	if !s.running.Load() {
		s.timeMu.Unlock()
		return zero, ErrSchedulerStopped
	}
	now := time.Now()
	s.armSeq++
	next := &activeTimer{
		armedAt:  now,
		deadline: now.Add(t.delay),
		seq:      s.armSeq,
		cell:     cell,
	}
	if prev, ok := s.timers[t.id]; ok {
		displaced = prev.cell
	} else {
		s.pending.Add(1)
	}
	s.timers[t.id] = next
	s.timeMu.Unlock()
	if displaced != nil {
		s.stats.timersDisplaced.Add(1)
		displaced.Fill(ErrCancelled)
	}
	res, err := awaitCell(s, cell)
	if err != nil {
		return zero, err
	}
	if res != nil {
		return zero, res
	}
	return fn()
}

// Cancel removes the timer's active arming, if any, filling its cell with
// [ErrCancelled]. No-op on an unarmed timer.
func (t *Timer) Cancel() {
	s := t.s
	s.timeMu.Lock()
	active, ok := s.timers[t.id]
	if ok {
		delete(s.timers, t.id)
		s.pending.Add(-1)
	}
	s.timeMu.Unlock()
	if !ok {
		return
	}
	s.stats.timersCancelled.Add(1)
	active.cell.Fill(ErrCancelled)
	s.events.broadcast()
}

// Sleep suspends the calling fiber for at least d, subject to the timer
// resolution. Sleepers are not individually cancellable; an aborted run
// returns [ErrSchedulerStopped] from Sleep.
func (s *Scheduler) Sleep(d time.Duration) error {
	cell := NewCell[error]()
	s.timeMu.Lock()
	if !s.running.Load() {
		s.timeMu.Unlock()
		return ErrSchedulerStopped
	}
	s.armSeq++
	s.pending.Add(1)
	s.sleepers = append(s.sleepers, &sleeper{
		wakeAt: time.Now().Add(d),
		seq:    s.armSeq,
		cell:   cell,
	})
	s.timeMu.Unlock()
	res, err := awaitCell(s, cell)
	if err != nil {
		return err
	}
	return res
}

func (s *Scheduler) timerLoop() {
	defer close(s.timerDone)
	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()
	for {
		select {
		case <-s.timerStop:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

type timerFire struct {
	at   time.Time
	seq  uint64
	fill func()
}

// tick wakes elapsed timers and sleepers. All fills produced in one tick
// are sorted by their original scheduled time before being batch-enqueued,
// so two timers firing in the same tick are delivered in scheduled order
// regardless of table iteration order.
func (s *Scheduler) tick(now time.Time) {
	var fires []timerFire
	s.timeMu.Lock()
	for id, active := range s.timers {
		if active.deadline.After(now) {
			continue
		}
		delete(s.timers, id)
		cell := active.cell
		fires = append(fires, timerFire{at: active.armedAt, seq: active.seq, fill: func() {
			s.stats.timersFired.Add(1)
			cell.Fill(nil)
		}})
	}
	if len(s.sleepers) > 0 {
		keep := s.sleepers[:0]
		for _, sl := range s.sleepers {
			if !sl.wakeAt.Before(now) {
				keep = append(keep, sl)
				continue
			}
			cell := sl.cell
			fires = append(fires, timerFire{at: sl.wakeAt, seq: sl.seq, fill: func() {
				s.stats.sleepersFired.Add(1)
				cell.Fill(nil)
			}})
		}
		for i := len(keep); i < len(s.sleepers); i++ {
			s.sleepers[i] = nil
		}
		s.sleepers = keep
	}
	s.timeMu.Unlock()
	if len(fires) == 0 {
		return
	}
	sort.Slice(fires, func(i, j int) bool {
		if !fires[i].at.Equal(fires[j].at) {
			return fires[i].at.Before(fires[j].at)
		}
		return fires[i].seq < fires[j].seq
	})
	events := make([]event, len(fires))
	for i, f := range fires {
		events[i] = event{fill: f.fill}
	}
	if !s.events.sendMany(events) {
		s.pending.Add(-int64(len(fires)))
		for _, f := range fires {
			f.fill()
		}
		s.events.broadcast()
	}
}

// cancelTimers drains every armed timer with a cancelled fill; a shutdown
// helper so fibers parked in Schedule unblock before workers are joined.
// Sleepers are dropped without a fill; their readers return once the
// scheduler stops.
func (s *Scheduler) cancelTimers() {
	s.timeMu.Lock()
	cells := make([]*Cell[error], 0, len(s.timers))
	for id, active := range s.timers {
		delete(s.timers, id)
		cells = append(cells, active.cell)
	}
	released := int64(len(cells)) + int64(len(s.sleepers))
	s.sleepers = nil
	if released > 0 {
		s.pending.Add(-released)
	}
	s.timeMu.Unlock()
	for _, c := range cells {
		s.stats.timersCancelled.Add(1)
		c.Fill(ErrCancelled)
	}
	if released > 0 {
		s.events.broadcast()
	}
}
