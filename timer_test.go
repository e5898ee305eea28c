// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fibersched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// waitArmed polls until tm has an active arming, or gives up.
func waitArmed(s *Scheduler, tm *Timer) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.timeMu.Lock()
		_, ok := s.timers[tm.id]
		s.timeMu.Unlock()
		if ok {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestScheduler_Sleep(t *testing.T) {
	var sc *Scheduler
	start := time.Now()
	_, err := Run(context.Background(), func(ctx context.Context, s *Scheduler) (int, error) {
		sc = s
		return 0, s.Sleep(30 * time.Millisecond)
	}, WithTimerResolution(2*time.Millisecond))
	if err != nil {
		t.Fatalf(`unexpected error: %v`, err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf(`woke after %v`, elapsed)
	}
	if got := sc.Stats().SleepersFired; got != 1 {
		t.Fatalf(`SleepersFired = %d`, got)
	}
}

func TestTick_SleepersWakeInScheduledOrder(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	s.running.Store(true)
	now := time.Now()
	mk := func(d time.Duration) *Cell[error] {
		cell := NewCell[error]()
		s.timeMu.Lock()
		s.armSeq++
		s.pending.Add(1)
		s.sleepers = append(s.sleepers, &sleeper{wakeAt: now.Add(d), seq: s.armSeq, cell: cell})
		s.timeMu.Unlock()
		return cell
	}
	c3 := mk(3 * time.Second)
	c1 := mk(1 * time.Second)
	c2 := mk(2 * time.Second)
	s.tick(now.Add(time.Hour))
	want := []*Cell[error]{c1, c2, c3}
	for i := 0; i < len(want); i++ {
		ev, status := s.events.get(nil)
		if status != getOK {
			t.Fatalf(`expected getOK at %d, got %v`, i, status)
		}
		ev.fill()
		for j, c := range want {
			if _, ok := c.TryGet(); ok != (j <= i) {
				t.Fatalf(`after fill %d, cell %d filled=%v`, i, j, ok)
			}
		}
	}
}

func TestTick_TimersFireInArmedOrder(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	s.running.Store(true)
	now := time.Now()
	arm := func(armedAt, deadline time.Time) *Cell[error] {
		cell := NewCell[error]()
		s.timeMu.Lock()
		s.idSeq++
		s.armSeq++
		s.pending.Add(1)
		s.timers[s.idSeq] = &activeTimer{armedAt: armedAt, deadline: deadline, seq: s.armSeq, cell: cell}
		s.timeMu.Unlock()
		return cell
	}
	// Armed earlier with the later deadline; delivery follows arming order.
	cA := arm(now, now.Add(50*time.Millisecond))
	cB := arm(now.Add(10*time.Millisecond), now.Add(20*time.Millisecond))
	s.tick(now.Add(time.Second))
	ev, status := s.events.get(nil)
	if status != getOK {
		t.Fatalf(`expected getOK, got %v`, status)
	}
	ev.fill()
	if _, ok := cA.TryGet(); !ok {
		t.Fatal(`earlier arming must fire first`)
	}
	if _, ok := cB.TryGet(); ok {
		t.Fatal(`later arming fired out of order`)
	}
	ev, status = s.events.get(nil)
	if status != getOK {
		t.Fatalf(`expected getOK, got %v`, status)
	}
	ev.fill()
	if _, ok := cB.TryGet(); !ok {
		t.Fatal(`later arming never fired`)
	}
}

func TestSchedule_FiresAfterDelayAndRunsClosure(t *testing.T) {
	var sc *Scheduler
	start := time.Now()
	got, err := Run(context.Background(), func(ctx context.Context, s *Scheduler) (int, error) {
		sc = s
		tm := s.NewTimer(20 * time.Millisecond)
		return Schedule(tm, func() (int, error) { return 9, nil })
	}, WithTimerResolution(2*time.Millisecond))
	if err != nil {
		t.Fatalf(`unexpected error: %v`, err)
	}
	if got != 9 {
		t.Fatalf(`got %d`, got)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf(`fired after %v`, elapsed)
	}
	if got := sc.Stats().TimersFired; got != 1 {
		t.Fatalf(`TimersFired = %d`, got)
	}
}

func TestSchedule_DebounceDisplacesEarlierArming(t *testing.T) {
	var sc *Scheduler
	var fnARan atomic.Bool
	var aErr error
	got, err := Run(context.Background(), func(ctx context.Context, s *Scheduler) (int, error) {
		sc = s
		tm := s.NewTimer(100 * time.Millisecond)
		aDone := NewCell[error]()
		s.Detach(func(ctx context.Context, s *Scheduler) error {
			_, err := Schedule(tm, func() (int, error) {
				fnARan.Store(true)
				return 0, nil
			})
			aErr = err
			aDone.Fill(nil)
			return nil
		})
		if !waitArmed(s, tm) {
			return 0, errors.New(`timer never armed`)
		}
		v, err := Schedule(tm, func() (int, error) { return 11, nil })
		if err != nil {
			return 0, err
		}
		if _, err := awaitCell(s, aDone); err != nil {
			return 0, err
		}
		return v, nil
	}, WithTimerResolution(5*time.Millisecond))
	if err != nil {
		t.Fatalf(`unexpected error: %v`, err)
	}
	if got != 11 {
		t.Fatalf(`got %d`, got)
	}
	if fnARan.Load() {
		t.Fatal(`displaced closure must not run`)
	}
	if !errors.Is(aErr, ErrCancelled) {
		t.Fatalf(`displaced arming got %v`, aErr)
	}
	stats := sc.Stats()
	if stats.TimersDisplaced != 1 || stats.TimersFired != 1 {
		t.Fatalf(`unexpected stats %+v`, stats)
	}
}

func TestTimer_CancelFillsCancelled(t *testing.T) {
	var sc *Scheduler
	var aErr error
	start := time.Now()
	_, err := Run(context.Background(), func(ctx context.Context, s *Scheduler) (int, error) {
		sc = s
		tm := s.NewTimer(time.Hour)
		aDone := NewCell[error]()
		s.Detach(func(ctx context.Context, s *Scheduler) error {
			_, err := Schedule(tm, func() (int, error) { return 0, nil })
			aErr = err
			aDone.Fill(nil)
			return nil
		})
		if !waitArmed(s, tm) {
			return 0, errors.New(`timer never armed`)
		}
		tm.Cancel()
		tm.Cancel() // no-op on an unarmed timer
		_, err := awaitCell(s, aDone)
		return 0, err
	}, WithTimerResolution(5*time.Millisecond))
	if err != nil {
		t.Fatalf(`unexpected error: %v`, err)
	}
	if !errors.Is(aErr, ErrCancelled) {
		t.Fatalf(`cancelled arming got %v`, aErr)
	}
	if got := sc.Stats().TimersCancelled; got != 1 {
		t.Fatalf(`TimersCancelled = %d`, got)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf(`cancel took %v`, elapsed)
	}
}

func TestTimer_SetDelayLeavesArmedDeadline(t *testing.T) {
	var aErr error
	var fireElapsed time.Duration
	start := time.Now()
	_, err := Run(context.Background(), func(ctx context.Context, s *Scheduler) (int, error) {
		tm := s.NewTimer(50 * time.Millisecond)
		aDone := NewCell[error]()
		s.Detach(func(ctx context.Context, s *Scheduler) error {
			armed := time.Now()
			_, err := Schedule(tm, func() (int, error) { return 0, nil })
			aErr = err
			fireElapsed = time.Since(armed)
			aDone.Fill(nil)
			return nil
		})
		if !waitArmed(s, tm) {
			return 0, errors.New(`timer never armed`)
		}
		tm.SetDelay(time.Hour)
		_, err := awaitCell(s, aDone)
		return 0, err
	}, WithTimerResolution(5*time.Millisecond))
	if err != nil {
		t.Fatalf(`unexpected error: %v`, err)
	}
	if aErr != nil {
		t.Fatalf(`arming got %v`, aErr)
	}
	if fireElapsed >= 10*time.Second {
		t.Fatalf(`armed deadline moved: fired after %v`, fireElapsed)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf(`run took %v`, elapsed)
	}
}

func TestNewTimer_UniqueIDs(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	a, b, c := s.NewTimer(time.Second), s.NewTimer(time.Second), s.NewTimer(time.Second)
	if a.id == b.id || b.id == c.id || a.id == c.id {
		t.Fatalf(`ids not unique: %d %d %d`, a.id, b.id, c.id)
	}
}
