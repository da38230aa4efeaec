package filament

import "time"

// Condition is a monitor condition variable bound to one Lock. Wait
// releases the lock and suspends atomically, and always holds the lock
// again when it returns. A notified waiter is only made runnable: it
// re-contends for the lock, so callers re-check their predicate in a loop.
type Condition struct {
	noCopy  noCopy
	l       *Lock
	waiters waitList
}

// NewCondition returns a condition bound to l, or to a fresh Lock if l is
// nil.
func NewCondition(l *Lock) *Condition {
	if l == nil {
		l = new(Lock)
	}
	return &Condition{l: l}
}

// Lock returns the bound lock.
func (c *Condition) Lock() *Lock {
	return c.l
}

// Wait releases the bound lock, which f must hold, and suspends f until
// notified or, when timeout is positive, until it elapses (ErrTimeout).
// If f is canceled while waiting, the lock is reacquired before the
// cancellation unwinds f.
func (c *Condition) Wait(f *Fiber, timeout time.Duration) error {
	if f == nil {
		return usageError("condition wait", ErrNotInFiber)
	}
	if err := f.sched.checkCaller(f, "condition wait"); err != nil {
		return err
	}
	if !c.l.locked || c.l.owner != f {
		return usageError("condition wait", ErrNotOwner)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	w := f.sched.enqueue(f, &c.waiters, deadline)
	_ = c.l.Release()
	out := f.sched.park(f, w)

	var first bool
	if out == wakeCanceled {
		first = f.beginUnwind()
	}
	for !c.l.tryAcquire(f) {
		if c.l.wait(f, 0) == wakeSignaled {
			break
		}
		if f.unwinding {
			// Canceled again while unwinding; give up on the lock.
			return f.raise(first)
		}
		first = f.beginUnwind()
	}

	switch {
	case first:
		return f.raise(true)
	case out == wakeSignaled:
		return nil
	case out == wakeTimeout:
		return ErrTimeout
	default:
		return f.cancelErr
	}
}

// WaitFor waits until pred returns true, evaluating it with the lock held.
// A positive timeout bounds the total wait; pred is checked once more
// after the timeout fires, so a state change racing the deadline wins.
func (c *Condition) WaitFor(f *Fiber, pred func() bool, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for !pred() {
		var remaining time.Duration
		if !deadline.IsZero() {
			if remaining = time.Until(deadline); remaining <= 0 {
				return ErrTimeout
			}
		}
		if err := c.Wait(f, remaining); err != nil {
			if err == ErrTimeout && pred() {
				return nil
			}
			return err
		}
	}
	return nil
}

// Notify wakes the longest waiting fiber, if any.
func (c *Condition) Notify() {
	c.waiters.notify(1)
}

// NotifyN wakes up to n waiting fibers in FIFO order and returns how many
// were woken.
func (c *Condition) NotifyN(n int) int {
	return c.waiters.notify(n)
}

// NotifyAll wakes every waiting fiber.
func (c *Condition) NotifyAll() int {
	return c.waiters.notify(c.waiters.len())
}

// Waiters returns the number of fibers waiting on the condition.
func (c *Condition) Waiters() int {
	return c.waiters.len()
}
