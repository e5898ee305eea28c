package fibersched

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/joeycumines/go-catrate"
)

// ExitStatus describes how a child process exited.
type ExitStatus struct {
	// Code is the exit code, when the process exited normally.
	Code int
	// Signal is the terminating signal number, when Signaled is true.
	Signal   int
	Signaled bool
}

func (e ExitStatus) String() string {
	if e.Signaled {
		return fmt.Sprintf(`signal %d`, e.Signal)
	}
	return fmt.Sprintf(`exit %d`, e.Code)
}

type procState uint8

const (
	procRunning procState = iota + 1
	procZombie
)

// procEntry resolves the race between "child exits before we register it"
// and "we register before the exit is observed": an exit status for an
// unregistered pid is parked as a zombie until registration collects it.
type procEntry struct {
	cell   *Cell[ExitStatus]
	status ExitStatus
	state  procState
}

// processWatcher owns one goroutine and the pid table. The mutex is held
// across the non-blocking reap so a removal and the wait syscall are
// atomic, preventing pid reuse races.
type processWatcher struct {
	s       *Scheduler
	mu      sync.Mutex
	table   map[int]*procEntry
	stop    chan struct{}
	done    chan struct{}
	limiter *catrate.Limiter
}

func newProcessWatcher(s *Scheduler) *processWatcher {
	return &processWatcher{
		s:     s,
		table: make(map[int]*procEntry),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		// Teardown against dying children can emit the same failure in a
		// tight loop; keep the log noise bounded per category.
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		}),
	}
}

func (w *processWatcher) start() {
	go w.run()
}

// shutdown kills residual children, then stops and joins the watcher.
func (w *processWatcher) shutdown() {
	w.killall(syscall.SIGKILL)
	close(w.stop)
	<-w.done
}

// register adds pid to the table, promising one exit event. If the child
// already exited (zombie entry), the completion event is enqueued
// immediately. Registering a pid that is already running is a caller bug.
func (w *processWatcher) register(pid int) *Cell[ExitStatus] {
	w.s.pending.Add(1)
	w.mu.Lock()
	if e, ok := w.table[pid]; ok {
		if e.state != procZombie {
			w.mu.Unlock()
			panic(fmt.Sprintf(`fibersched: pid %d registered twice`, pid))
		}
		delete(w.table, pid)
		status := e.status
		w.mu.Unlock()
		cell := NewCell[ExitStatus]()
		if !w.s.events.send(event{fill: func() { cell.Fill(status) }}) {
			cell.Fill(status)
			w.s.pending.Add(-1)
			w.s.events.broadcast()
		}
		return cell
	}
	e := &procEntry{state: procRunning, cell: NewCell[ExitStatus]()}
	w.table[pid] = e
	w.mu.Unlock()
	return e.cell
}

// publish delivers an exit status for a reaped, registered pid. Must be
// called with w.mu held; the table entry must already be removed.
func (w *processWatcher) publish(cell *Cell[ExitStatus], status ExitStatus) {
	w.s.stats.processesReaped.Add(1)
	if !w.s.events.send(event{fill: func() { cell.Fill(status) }}) {
		cell.Fill(status)
		w.s.pending.Add(-1)
		w.s.events.broadcast()
	}
}

// killall sends sig to every running pid in the table. Errors from the
// underlying kill are swallowed; the target may have already died.
func (w *processWatcher) killall(sig syscall.Signal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for pid, e := range w.table {
		if e.state != procRunning {
			continue
		}
		if err := killProcess(pid, sig); err != nil {
			if _, ok := w.limiter.Allow(`kill`); ok {
				w.s.logger.Debug().Err(err).Int(`pid`, pid).Log(`kill failed`)
			}
		}
	}
}

// WaitForProcess suspends the calling fiber until the child identified by
// pid exits, returning its captured exit status. The pid must belong to a
// child of this process. If the child exited before registration, the
// captured status is returned without blocking on the child.
func (s *Scheduler) WaitForProcess(pid int) (ExitStatus, error) {
	if !s.running.Load() {
		return ExitStatus{}, ErrSchedulerStopped
	}
	return awaitCell(s, s.watcher.register(pid))
}

// Kill sends sig to every child currently registered with the scheduler.
// Delivery errors are swallowed. On Windows the signal is mapped onto
// process termination.
func (s *Scheduler) Kill(sig syscall.Signal) {
	s.watcher.killall(sig)
}
