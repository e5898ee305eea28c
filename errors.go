package fibersched

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is the cooperative cancellation outcome. It is returned
	// by [Task.Await] after a successful [Task.Cancel], and by [Schedule]
	// when an arming is displaced by a newer arming or by [Timer.Cancel].
	ErrCancelled = errors.New(`fibersched: cancelled`)

	// ErrStopped is returned by [Async] when the target worker has been
	// stopped.
	ErrStopped = errors.New(`fibersched: worker stopped`)

	// ErrAbortRequested is returned by [Run] when [Scheduler.Abort] was
	// called, or the run context was cancelled.
	ErrAbortRequested = errors.New(`fibersched: abort requested`)

	// ErrNever is returned by [Run] when no pending events remain and every
	// fiber is suspended, i.e. nothing could ever unblock the run.
	ErrNever = errors.New(`fibersched: no pending events and all fibers blocked`)

	// ErrSchedulerStopped is returned by suspension primitives once the
	// scheduler has shut down, so fibers never park indefinitely across a
	// completed run. It is also returned by operations requiring a running
	// scheduler, e.g. [Scheduler.NewThread].
	ErrSchedulerStopped = errors.New(`fibersched: scheduler stopped`)
)

// PanicError wraps a panic value recovered from user code running on a
// worker or fiber. The panic never kills the worker; it is encoded into the
// task's completion instead.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf(`fibersched: panic: %v`, e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type,
// enabling [errors.Is] and [errors.As] through the cause chain.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
