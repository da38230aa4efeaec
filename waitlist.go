package filament

import (
	"time"

	"github.com/gammazero/deque"
)

// wake is the outcome a suspended fiber is resumed with.
type wake uint8

const (
	wakeNone wake = iota
	wakeSignaled
	wakeTimeout
	wakeCanceled
	wakeClosed
)

func (w wake) String() string {
	switch w {
	case wakeNone:
		return "none"
	case wakeSignaled:
		return "signaled"
	case wakeTimeout:
		return "timeout"
	case wakeCanceled:
		return "canceled"
	case wakeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// waiter registers one fiber's interest in a future wakeup. It sits on at
// most one waitList and at most one timer entry; the first wake wins and
// detaches it from both.
type waiter struct {
	fiber *Fiber      // Suspended fiber
	list  *waitList   // List the waiter is queued on, nil once detached
	timer *timerEntry // Deadline, nil if none or already fired
	done  bool        // Set by the first wake
	out   wake        // Outcome of the first wake
}

// waitList is a FIFO of waiters. Woken waiters are always removed, so every
// queued waiter is live.
type waitList struct {
	q deque.Deque[*waiter]
}

func (l *waitList) push(w *waiter) {
	w.list = l
	l.q.PushBack(w)
}

func (l *waitList) len() int {
	return l.q.Len()
}

func (l *waitList) front() *waiter {
	if l.q.Len() == 0 {
		return nil
	}
	return l.q.Front()
}

func (l *waitList) popFront() *waiter {
	if l.q.Len() == 0 {
		return nil
	}
	w := l.q.PopFront()
	w.list = nil
	return w
}

func (l *waitList) remove(w *waiter) {
	if i := l.q.Index(func(x *waiter) bool { return x == w }); i >= 0 {
		l.q.Remove(i)
	}
	w.list = nil
}

// wake resumes w's fiber with out, unless w was already woken. Timeout,
// signal, readiness and cancellation all race through here.
func (s *Scheduler) wake(w *waiter, out wake) bool {
	if w == nil || w.done {
		return false
	}
	w.done = true
	w.out = out
	if w.list != nil {
		w.list.remove(w)
	}
	if w.timer != nil {
		s.timers.cancel(w.timer)
		w.timer = nil
	}
	s.resume(w.fiber, out)
	return true
}

// signal wakes the head of l, reporting whether there was one.
func (s *Scheduler) signal(l *waitList) bool {
	for {
		w := l.popFront()
		if w == nil {
			return false
		}
		if s.wake(w, wakeSignaled) {
			return true
		}
	}
}

// signalN wakes up to n waiters of l in FIFO order, returning the count.
func (s *Scheduler) signalN(l *waitList, n int) int {
	var woken int
	for woken < n && s.signal(l) {
		woken++
	}
	return woken
}

// wakeAll wakes every waiter of l with out.
func (s *Scheduler) wakeAll(l *waitList, out wake) int {
	var woken int
	for {
		w := l.popFront()
		if w == nil {
			return woken
		}
		if s.wake(w, out) {
			woken++
		}
	}
}

// block queues f on l (which may be nil) with an optional relative
// timeout, then parks it.
func (s *Scheduler) block(f *Fiber, l *waitList, timeout time.Duration) wake {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	return s.blockUntil(f, l, deadline)
}

// blockUntil is block with an absolute deadline; the zero time means none.
func (s *Scheduler) blockUntil(f *Fiber, l *waitList, deadline time.Time) wake {
	return s.park(f, s.enqueue(f, l, deadline))
}

// enqueue registers a waiter for f on l and the deadline without parking.
func (s *Scheduler) enqueue(f *Fiber, l *waitList, deadline time.Time) *waiter {
	w := &waiter{fiber: f}
	if l != nil {
		l.push(w)
	}
	if !deadline.IsZero() {
		w.timer = s.timers.schedule(deadline, func() { s.wake(w, wakeTimeout) })
	}
	return w
}

// dequeue undoes enqueue for a waiter that was never parked.
func (s *Scheduler) dequeue(w *waiter) {
	w.done = true
	if w.list != nil {
		w.list.remove(w)
	}
	if w.timer != nil {
		s.timers.cancel(w.timer)
		w.timer = nil
	}
}

// grant wakes the head of l and returns its fiber, or nil if l is empty.
// Primitives handing over ownership use the returned fiber as the new
// holder.
func (l *waitList) grant() *Fiber {
	for {
		w := l.popFront()
		if w == nil {
			return nil
		}
		if w.fiber.sched.wake(w, wakeSignaled) {
			return w.fiber
		}
	}
}

// notify wakes up to n waiters of l in FIFO order, returning the count.
func (l *waitList) notify(n int) int {
	var woken int
	for woken < n && l.grant() != nil {
		woken++
	}
	return woken
}
