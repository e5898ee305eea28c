//go:build windows

package fibersched

import (
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

// processPollInterval is the exit-code poll cadence; Windows has no
// SIGCHLD equivalent.
const processPollInterval = 50 * time.Millisecond

func (w *processWatcher) run() {
	defer close(w.done)
	ticker := time.NewTicker(processPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *processWatcher) poll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for pid, e := range w.table {
		if e.state != procRunning {
			continue
		}
		code, running, err := queryExitCode(pid)
		if err != nil {
			if _, ok := w.limiter.Allow(`poll`); ok {
				w.s.logger.Err().Err(err).Int(`pid`, pid).Log(`exit code query failed`)
			}
			continue
		}
		if running {
			continue
		}
		delete(w.table, pid)
		w.publish(e.cell, ExitStatus{Code: code})
	}
}

func queryExitCode(pid int) (code int, running bool, err error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return 0, false, err
	}
	defer windows.CloseHandle(h)
	var c uint32
	if err := windows.GetExitCodeProcess(h, &c); err != nil {
		return 0, false, err
	}
	if c == windows.STILL_ACTIVE {
		return 0, true, nil
	}
	return int(c), false, nil
}

func killProcess(pid int, sig syscall.Signal) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, uint32(128+int(sig)))
}
