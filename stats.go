package fibersched

import "sync/atomic"

// Stats is a point-in-time snapshot of scheduler counters, retrieved via
// [Scheduler.Stats]. Counters only ever increase over the life of a run.
type Stats struct {
	// EventsDelivered counts events dequeued and executed by the driver.
	EventsDelivered uint64
	// JobsExecuted counts worker jobs run to completion (including panics).
	JobsExecuted uint64
	// JobsCancelled counts jobs revoked before a worker consumed them.
	JobsCancelled uint64
	// JobPanics counts worker jobs whose function panicked.
	JobPanics uint64
	// TimersFired counts timer armings delivered to their waiting fiber.
	TimersFired uint64
	// TimersCancelled counts armings cancelled via Timer.Cancel or shutdown.
	TimersCancelled uint64
	// TimersDisplaced counts armings displaced by a newer Schedule (debounce).
	TimersDisplaced uint64
	// SleepersFired counts Sleep wake-ups delivered.
	SleepersFired uint64
	// ProcessesReaped counts child exit statuses observed by the watcher.
	ProcessesReaped uint64
	// DetachedFibers counts fibers launched via Detach.
	DetachedFibers uint64
	// DetachedFailures counts detached fibers that returned an error or
	// panicked.
	DetachedFailures uint64
}

type statCounters struct {
	eventsDelivered  atomic.Uint64
	jobsExecuted     atomic.Uint64
	jobsCancelled    atomic.Uint64
	jobPanics        atomic.Uint64
	timersFired      atomic.Uint64
	timersCancelled  atomic.Uint64
	timersDisplaced  atomic.Uint64
	sleepersFired    atomic.Uint64
	processesReaped  atomic.Uint64
	detachedFibers   atomic.Uint64
	detachedFailures atomic.Uint64
}

func (c *statCounters) snapshot() Stats {
	return Stats{
		EventsDelivered:  c.eventsDelivered.Load(),
		JobsExecuted:     c.jobsExecuted.Load(),
		JobsCancelled:    c.jobsCancelled.Load(),
		JobPanics:        c.jobPanics.Load(),
		TimersFired:      c.timersFired.Load(),
		TimersCancelled:  c.timersCancelled.Load(),
		TimersDisplaced:  c.timersDisplaced.Load(),
		SleepersFired:    c.sleepersFired.Load(),
		ProcessesReaped:  c.processesReaped.Load(),
		DetachedFibers:   c.detachedFibers.Load(),
		DetachedFailures: c.detachedFailures.Load(),
	}
}

// Stats returns a snapshot of the scheduler's counters. Safe to call from
// any goroutine, including after [Run] has returned.
func (s *Scheduler) Stats() Stats {
	return s.stats.snapshot()
}
