package filament

import (
	"fmt"
	"time"
)

// Semaphore manages a count of available resources and a FIFO queue of
// fibers waiting for one. A release with waiters queued hands the unit
// straight to the head waiter instead of incrementing the count.
type Semaphore struct {
	noCopy  noCopy   // Prevents copying of the semaphore
	v       int      // Value (available resources)
	bound   int      // Maximum value if bounded
	bounded bool
	waiters waitList // Waiting fibers
}

// NewSemaphore returns a semaphore with n available resources.
func NewSemaphore(n int) *Semaphore {
	if n < 0 {
		panic("filament: negative semaphore value")
	}
	return &Semaphore{v: n}
}

// NewBoundedSemaphore is NewSemaphore where releasing beyond the initial
// value is a usage error.
func NewBoundedSemaphore(n int) *Semaphore {
	s := NewSemaphore(n)
	s.bound, s.bounded = n, true
	return s
}

// Acquire takes one resource for f. With none available it returns
// ErrWouldBlock if block is false, and otherwise suspends f in FIFO order,
// for at most timeout when positive (ErrTimeout). A non-blocking Acquire
// may pass a nil f.
func (s *Semaphore) Acquire(f *Fiber, block bool, timeout time.Duration) error {
	if s.v > 0 && s.waiters.len() == 0 {
		s.v--
		return nil
	}
	if !block {
		return ErrWouldBlock
	}
	if f == nil {
		return usageError("semaphore acquire", ErrNotInFiber)
	}
	if err := f.sched.checkCaller(f, "semaphore acquire"); err != nil {
		return err
	}

	switch f.sched.block(f, &s.waiters, timeout) {
	case wakeSignaled:
		return nil
	case wakeTimeout:
		return ErrTimeout
	default:
		return f.interrupt()
	}
}

// Release returns one resource, resuming the longest waiting fiber if any.
func (s *Semaphore) Release() error {
	if s.waiters.grant() != nil {
		return nil
	}
	if s.bounded && s.v >= s.bound {
		return usageError("semaphore release", fmt.Errorf("released too many times (bound %d)", s.bound))
	}
	s.v++
	return nil
}

// Value returns the number of available resources.
func (s *Semaphore) Value() int {
	return s.v
}

// Waiters returns the number of fibers waiting to acquire.
func (s *Semaphore) Waiters() int {
	return s.waiters.len()
}
