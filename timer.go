package filament

import (
	"container/heap"
	"context"
	"time"
)

// timerEntry is one deadline in the registry. index is its heap position,
// -1 once fired or canceled.
type timerEntry struct {
	when  time.Time
	seq   uint64
	index int
	fn    func()
}

// timerHeap is a min-heap of deadlines, ties broken by scheduling order.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// timerQueue is the scheduler's deadline registry.
type timerQueue struct {
	h   timerHeap
	seq uint64
}

func (q *timerQueue) schedule(when time.Time, fn func()) *timerEntry {
	q.seq++
	e := &timerEntry{when: when, seq: q.seq, fn: fn}
	heap.Push(&q.h, e)
	return e
}

// cancel removes e, reporting false if it already fired or was canceled.
func (q *timerQueue) cancel(e *timerEntry) bool {
	if e == nil || e.index < 0 {
		return false
	}
	heap.Remove(&q.h, e.index)
	return true
}

func (q *timerQueue) next() (time.Time, bool) {
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].when, true
}

func (q *timerQueue) len() int {
	return len(q.h)
}

// expire fires every entry due at now, in deadline order.
func (q *timerQueue) expire(now time.Time) int {
	var n int
	for len(q.h) > 0 && !q.h[0].when.After(now) {
		e := heap.Pop(&q.h).(*timerEntry)
		e.fn()
		n++
	}
	return n
}

// Timer is a pending AfterFunc call.
type Timer struct {
	sched *Scheduler
	entry *timerEntry
}

// AfterFunc spawns a fiber running fn once d has elapsed. A pending timer
// keeps Run from returning.
func (s *Scheduler) AfterFunc(d time.Duration, fn func(context.Context, *Fiber)) *Timer {
	t := &Timer{sched: s}
	t.entry = s.timers.schedule(time.Now().Add(d), func() {
		s.Spawn(func(ctx context.Context, f *Fiber) error {
			fn(ctx, f)
			return nil
		})
	})
	return t
}

// Stop cancels the timer, reporting false if it already fired or was
// stopped.
func (t *Timer) Stop() bool {
	return t.sched.timers.cancel(t.entry)
}

// Sleep suspends f for d. A non-positive d yields instead.
func (f *Fiber) Sleep(d time.Duration) error {
	if err := f.sched.checkCaller(f, "sleep"); err != nil {
		return err
	}
	if d <= 0 {
		f.Yield()
		return nil
	}
	if out := f.sched.block(f, nil, d); out == wakeCanceled {
		return f.interrupt()
	}
	return nil
}
