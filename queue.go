package filament

import (
	"container/heap"
	"errors"
	"fmt"
	"time"

	"github.com/gammazero/deque"
)

var (
	errPutTimeout = fmt.Errorf("%w (%w)", ErrFull, ErrTimeout)
	errGetTimeout = fmt.Errorf("%w (%w)", ErrEmpty, ErrTimeout)
)

// store is the item discipline of a Queue.
type store[T any] interface {
	push(T)
	pop() T
	len() int
}

type fifoStore[T any] struct{ d deque.Deque[T] }

func (s *fifoStore[T]) push(v T) { s.d.PushBack(v) }
func (s *fifoStore[T]) pop() T   { return s.d.PopFront() }
func (s *fifoStore[T]) len() int { return s.d.Len() }

type lifoStore[T any] struct{ d deque.Deque[T] }

func (s *lifoStore[T]) push(v T) { s.d.PushBack(v) }
func (s *lifoStore[T]) pop() T   { return s.d.PopBack() }
func (s *lifoStore[T]) len() int { return s.d.Len() }

type prioItem[T any] struct {
	v   T
	seq uint64
}

// prioHeap orders by less, then by insertion sequence.
type prioHeap[T any] struct {
	items []prioItem[T]
	less  func(a, b T) bool
	seq   uint64
}

func (h *prioHeap[T]) Len() int { return len(h.items) }

func (h *prioHeap[T]) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.less(a.v, b.v) {
		return true
	}
	if h.less(b.v, a.v) {
		return false
	}
	return a.seq < b.seq
}

func (h *prioHeap[T]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *prioHeap[T]) Push(x any) { h.items = append(h.items, x.(prioItem[T])) }

func (h *prioHeap[T]) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items[n-1] = prioItem[T]{}
	h.items = h.items[:n-1]
	return it
}

func (h *prioHeap[T]) push(v T) {
	h.seq++
	heap.Push(h, prioItem[T]{v: v, seq: h.seq})
}

func (h *prioHeap[T]) pop() T   { return heap.Pop(h).(prioItem[T]).v }
func (h *prioHeap[T]) len() int { return len(h.items) }

// Queue is a blocking producer/consumer queue for fibers. It is built from
// a Lock and three Conditions: not empty, not full and all done.
//
// The Nowait variants and TaskDone never suspend, so they may be called
// from outside fibers, e.g. from an AfterFunc callback or before Run.
type Queue[T any] struct {
	noCopy     noCopy
	items      store[T]
	maxsize    int
	mu         Lock
	notEmpty   *Condition
	notFull    *Condition
	allDone    *Condition
	unfinished int
}

// NewQueue returns a FIFO queue holding at most maxsize items, or any
// number if maxsize <= 0.
func NewQueue[T any](maxsize int) *Queue[T] {
	return newQueue[T](maxsize, new(fifoStore[T]))
}

// NewLifoQueue returns a queue that yields the most recently added item
// first.
func NewLifoQueue[T any](maxsize int) *Queue[T] {
	return newQueue[T](maxsize, new(lifoStore[T]))
}

// NewPriorityQueue returns a queue that yields the least item by less
// first. Equal items come out in insertion order.
func NewPriorityQueue[T any](maxsize int, less func(a, b T) bool) *Queue[T] {
	return newQueue[T](maxsize, &prioHeap[T]{less: less})
}

func newQueue[T any](maxsize int, items store[T]) *Queue[T] {
	q := &Queue[T]{items: items, maxsize: max(maxsize, 0)}
	q.notEmpty = NewCondition(&q.mu)
	q.notFull = NewCondition(&q.mu)
	q.allDone = NewCondition(&q.mu)
	return q
}

// Put adds item. If the queue is full it fails with ErrFull when block is
// false, and otherwise waits for a free slot, for at most timeout when
// positive. A timed-out Put returns an error matching both ErrFull and
// ErrTimeout.
func (q *Queue[T]) Put(f *Fiber, item T, block bool, timeout time.Duration) error {
	if f == nil {
		if block {
			return usageError("queue put", ErrNotInFiber)
		}
		return q.PutNowait(item)
	}
	if err := q.mu.Lock(f); err != nil {
		return err
	}
	defer q.unlock(f)

	if q.full() {
		if !block {
			return ErrFull
		}
		err := q.notFull.WaitFor(f, func() bool { return !q.full() }, timeout)
		if errors.Is(err, ErrTimeout) {
			return errPutTimeout
		}
		if err != nil {
			return err
		}
	}
	q.insert(item)
	return nil
}

// PutNowait adds item or fails with ErrFull.
func (q *Queue[T]) PutNowait(item T) error {
	if q.full() {
		return ErrFull
	}
	q.insert(item)
	return nil
}

// Get removes and returns the next item. If the queue is empty it fails
// with ErrEmpty when block is false, and otherwise waits for an item, for
// at most timeout when positive. A timed-out Get returns an error matching
// both ErrEmpty and ErrTimeout.
func (q *Queue[T]) Get(f *Fiber, block bool, timeout time.Duration) (T, error) {
	var zero T
	if f == nil {
		if block {
			return zero, usageError("queue get", ErrNotInFiber)
		}
		return q.GetNowait()
	}
	if err := q.mu.Lock(f); err != nil {
		return zero, err
	}
	defer q.unlock(f)

	if q.items.len() == 0 {
		if !block {
			return zero, ErrEmpty
		}
		err := q.notEmpty.WaitFor(f, func() bool { return q.items.len() > 0 }, timeout)
		if errors.Is(err, ErrTimeout) {
			return zero, errGetTimeout
		}
		if err != nil {
			return zero, err
		}
	}
	return q.remove(), nil
}

// GetNowait removes and returns the next item or fails with ErrEmpty.
func (q *Queue[T]) GetNowait() (T, error) {
	if q.items.len() == 0 {
		var zero T
		return zero, ErrEmpty
	}
	return q.remove(), nil
}

// TaskDone marks one previously fetched item as processed. Calling it more
// times than items were put is a usage error.
func (q *Queue[T]) TaskDone() error {
	if q.unfinished <= 0 {
		return usageError("task done", errors.New("called too many times"))
	}
	if q.unfinished--; q.unfinished == 0 {
		q.allDone.NotifyAll()
	}
	return nil
}

// Join blocks f until every item put has been marked done.
func (q *Queue[T]) Join(f *Fiber) error {
	if q.unfinished == 0 {
		return nil
	}
	if f == nil {
		return usageError("queue join", ErrNotInFiber)
	}
	if err := q.mu.Lock(f); err != nil {
		return err
	}
	defer q.unlock(f)
	return q.allDone.WaitFor(f, func() bool { return q.unfinished == 0 }, 0)
}

// Qsize returns the number of queued items.
func (q *Queue[T]) Qsize() int { return q.items.len() }

// Empty reports whether the queue holds no items.
func (q *Queue[T]) Empty() bool { return q.items.len() == 0 }

// Full reports whether a bounded queue is at capacity.
func (q *Queue[T]) Full() bool { return q.full() }

// Maxsize returns the capacity, 0 if unbounded.
func (q *Queue[T]) Maxsize() int { return q.maxsize }

// Unfinished returns the number of items not yet marked done.
func (q *Queue[T]) Unfinished() int { return q.unfinished }

func (q *Queue[T]) full() bool {
	return q.maxsize > 0 && q.items.len() >= q.maxsize
}

func (q *Queue[T]) insert(item T) {
	q.items.push(item)
	q.unfinished++
	q.notEmpty.Notify()
}

func (q *Queue[T]) remove() T {
	item := q.items.pop()
	if q.maxsize > 0 {
		q.notFull.Notify()
	}
	return item
}

// unlock releases the queue lock if f still holds it; a doubly canceled
// wait may return without it.
func (q *Queue[T]) unlock(f *Fiber) {
	if q.mu.locked && q.mu.owner == f {
		_ = q.mu.Release()
	}
}
