package filament

import "time"

// Lock provides mutual exclusion for fibers. An uncontended acquire never
// suspends. A contended acquire queues the fiber FIFO, and a release hands
// ownership straight to the head waiter, so waiters acquire in arrival
// order.
//
// Lock is not re-entrant and any fiber may release it. The zero value is
// an unlocked Lock.
type Lock struct {
	noCopy  noCopy   // Prevents copying of the lock
	owner   *Fiber   // Holder, nil if free or taken outside a fiber
	locked  bool     // Whether the lock is held
	waiters waitList // Fibers queued to acquire
}

// Acquire takes the lock for f. If the lock is held and block is false it
// returns ErrWouldBlock; otherwise f waits in FIFO order, for at most
// timeout when timeout is positive (ErrTimeout).
//
// A non-blocking Acquire may pass a nil f from outside any fiber.
func (l *Lock) Acquire(f *Fiber, block bool, timeout time.Duration) error {
	if l.tryAcquire(f) {
		return nil
	}
	if !block {
		return ErrWouldBlock
	}
	if f == nil {
		return usageError("lock acquire", ErrNotInFiber)
	}
	if err := f.sched.checkCaller(f, "lock acquire"); err != nil {
		return err
	}

	switch l.wait(f, timeout) {
	case wakeSignaled:
		return nil
	case wakeTimeout:
		return ErrTimeout
	default:
		return f.interrupt()
	}
}

// Release frees the lock, handing it to the longest waiting fiber if any.
func (l *Lock) Release() error {
	if !l.locked {
		return usageError("lock release", ErrNotHeld)
	}
	l.owner.unhold(l)
	if next := l.waiters.grant(); next != nil {
		l.owner = next
		next.hold(l)
		return nil
	}
	l.owner = nil
	l.locked = false
	return nil
}

// Lock is a blocking Acquire without timeout.
func (l *Lock) Lock(f *Fiber) error {
	return l.Acquire(f, true, 0)
}

// Unlock is Release, panicking if the lock is not held.
func (l *Lock) Unlock() {
	if err := l.Release(); err != nil {
		panic("filament: unlock of unlocked Lock")
	}
}

// Locked reports whether the lock is held.
func (l *Lock) Locked() bool {
	return l.locked
}

// Waiters returns the number of fibers waiting to acquire the lock.
func (l *Lock) Waiters() int {
	return l.waiters.len()
}

func (l *Lock) tryAcquire(f *Fiber) bool {
	if l.locked || l.waiters.len() > 0 {
		return false
	}
	l.locked = true
	l.owner = f
	f.hold(l)
	return true
}

// wait queues f for the lock. On wakeSignaled f already owns it.
func (l *Lock) wait(f *Fiber, timeout time.Duration) wake {
	return f.sched.block(f, &l.waiters, timeout)
}

func (l *Lock) forceRelease(f *Fiber) {
	if l.locked && l.owner == f {
		_ = l.Release()
	}
}
