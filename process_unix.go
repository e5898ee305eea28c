// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

package fibersched

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// run is the watcher loop: SIGCHLD wakes a non-blocking reap pass. The Go
// runtime confines signal delivery to the notification channel, so no
// explicit per-thread signal mask is needed; Stop restores the prior
// disposition on the way out.
func (w *processWatcher) run() {
	defer close(w.done)
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, unix.SIGCHLD)
	defer signal.Stop(sigc)
	// Collect any child that exited before notification was in place.
	w.reap()
	for {
		select {
		case <-w.stop:
			return
		case <-sigc:
			w.reap()
		}
	}
}

// reap collects exited children with wait-no-hang until none remain. The
// mutex is held across the whole pass so a table removal and the wait
// syscall are atomic with respect to register.
func (w *processWatcher) reap() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD {
			return
		}
		if err != nil {
			if _, ok := w.limiter.Allow(`reap`); ok {
				w.s.logger.Err().Err(err).Log(`wait failed`)
			}
			return
		}
		if pid <= 0 {
			return
		}
		if !ws.Exited() && !ws.Signaled() {
			continue
		}
		status := exitStatusFromWait(ws)
		if e, ok := w.table[pid]; ok {
			if e.state != procRunning {
				panic(fmt.Sprintf(`fibersched: pid %d reaped twice`, pid))
			}
			delete(w.table, pid)
			w.publish(e.cell, status)
		} else {
			// Exit observed before registration.
			w.s.stats.processesReaped.Add(1)
			w.table[pid] = &procEntry{state: procZombie, status: status}
		}
	}
}

func exitStatusFromWait(ws unix.WaitStatus) ExitStatus {
	if ws.Signaled() {
		return ExitStatus{Signaled: true, Signal: int(ws.Signal())}
	}
	return ExitStatus{Code: ws.ExitStatus()}
}

func killProcess(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}
