package filament

import (
	"fmt"
	"time"
)

// RLock is a re-entrant Lock: the owning fiber may acquire it again, and
// it is freed once every acquire has been matched by a release. Only the
// owner may release it.
type RLock struct {
	noCopy  noCopy
	owner   *Fiber
	count   int
	waiters waitList
}

// Acquire takes the lock for f, or deepens f's hold if f already owns it.
// block and timeout behave as for Lock.Acquire.
func (l *RLock) Acquire(f *Fiber, block bool, timeout time.Duration) error {
	if f == nil {
		return usageError("rlock acquire", ErrNotInFiber)
	}
	if l.owner == f {
		l.count++
		return nil
	}
	if l.owner == nil && l.waiters.len() == 0 {
		l.owner = f
		l.count = 1
		f.hold(l)
		return nil
	}
	if !block {
		return ErrWouldBlock
	}
	if err := f.sched.checkCaller(f, "rlock acquire"); err != nil {
		return err
	}

	switch f.sched.block(f, &l.waiters, timeout) {
	case wakeSignaled:
		return nil
	case wakeTimeout:
		return ErrTimeout
	default:
		return f.interrupt()
	}
}

// Release undoes one Acquire by the running owner.
func (l *RLock) Release() error {
	if l.owner == nil {
		return usageError("rlock release", ErrNotHeld)
	}
	if cur := l.owner.sched.current; cur != l.owner {
		var id uint64
		if cur != nil {
			id = cur.id
		}
		return usageError("rlock release", fmt.Errorf("%w: held by fiber %d, released by %d", ErrNotOwner, l.owner.id, id))
	}
	if l.count--; l.count > 0 {
		return nil
	}
	l.handoff()
	return nil
}

// Lock is a blocking Acquire without timeout.
func (l *RLock) Lock(f *Fiber) error {
	return l.Acquire(f, true, 0)
}

// Unlock is Release, panicking on misuse.
func (l *RLock) Unlock() {
	if err := l.Release(); err != nil {
		panic("filament: " + err.Error())
	}
}

// Locked reports whether any fiber holds the lock.
func (l *RLock) Locked() bool {
	return l.owner != nil
}

// Owner returns the holding fiber, or nil.
func (l *RLock) Owner() *Fiber {
	return l.owner
}

// Waiters returns the number of fibers waiting to acquire the lock.
func (l *RLock) Waiters() int {
	return l.waiters.len()
}

func (l *RLock) handoff() {
	l.owner.unhold(l)
	l.owner, l.count = nil, 0
	if next := l.waiters.grant(); next != nil {
		l.owner, l.count = next, 1
		next.hold(l)
	}
}

func (l *RLock) forceRelease(f *Fiber) {
	if l.owner == f {
		l.handoff()
	}
}
