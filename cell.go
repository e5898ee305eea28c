package fibersched

import "sync"

// Cell is a one-shot synchronization cell: exactly one producer fills it,
// any number of consumers read it. Fill is first-wins; later fills are
// no-ops, which absorbs the race between a cancellation and a completion
// targeting the same cell.
type Cell[T any] struct {
	_       [0]func() // prevent equality comparison
	mu      sync.Mutex
	done    chan struct{}
	val     T
	waiters []*Scheduler
	filled  bool
}

// NewCell returns an empty cell.
func NewCell[T any]() *Cell[T] {
	return &Cell[T]{done: make(chan struct{})}
}

// Fill completes the cell with val. The first call wins and returns true;
// any later call is a no-op returning false.
func (c *Cell[T]) Fill(val T) bool {
	c.mu.Lock()
	if c.filled {
		c.mu.Unlock()
		return false
	}
	c.val = val
	c.filled = true
	waiters := c.waiters
	c.waiters = nil
	close(c.done)
	c.mu.Unlock()
	// Unblock accounting is performed on behalf of each registered waiter,
	// so the driver observes the wake-up no later than the fill itself.
	for _, s := range waiters {
		s.unblockFiber()
	}
	return true
}

// TryGet returns the value if the cell has been filled.
func (c *Cell[T]) TryGet() (T, bool) {
	select {
	case <-c.done:
		return c.val, true
	default:
		var zero T
		return zero, false
	}
}

// forgetWaiter deregisters s. If the cell was filled in the meantime the
// value is returned instead; the filler already adjusted s's accounting.
func (c *Cell[T]) forgetWaiter(s *Scheduler) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filled {
		return c.val, true
	}
	for i, w := range c.waiters {
		if w == s {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	var zero T
	return zero, false
}

// awaitCell suspends the calling fiber until c is filled, or until the
// scheduler stops, in which case ErrSchedulerStopped is returned and the
// cell is left unfilled.
func awaitCell[T any](s *Scheduler, c *Cell[T]) (T, error) {
	if v, ok := c.TryGet(); ok {
		return v, nil
	}
	s.blockFiber()
	c.mu.Lock()
	if c.filled {
		v := c.val
		c.mu.Unlock()
		s.unblockFiber()
		return v, nil
	}
	c.waiters = append(c.waiters, s)
	c.mu.Unlock()
	select {
	case <-c.done:
		return c.val, nil
	case <-s.stopCh:
		if v, ok := c.forgetWaiter(s); ok {
			return v, nil
		}
		s.unblockFiber()
		var zero T
		return zero, ErrSchedulerStopped
	}
}
