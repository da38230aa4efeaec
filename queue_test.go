package filament

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueCapacity(t *testing.T) {
	r := require.New(t)

	q := NewQueue[int](10)
	for i := range 10 {
		r.NoError(q.PutNowait(i))
	}
	r.True(q.Full())
	r.Equal(10, q.Qsize())
	r.ErrorIs(q.PutNowait(10), ErrFull)
	r.ErrorIs(q.Put(nil, 10, false, 0), ErrFull)

	v, err := q.GetNowait()
	r.NoError(err)
	r.Equal(0, v)
	r.False(q.Full())
	r.NoError(q.PutNowait(10))
	r.True(q.Full())
}

func TestQueueOrder(t *testing.T) {
	for _, tc := range []struct {
		name string
		q    *Queue[int]
		want []int
	}{
		{"fifo", NewQueue[int](0), []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"lifo", NewLifoQueue[int](0), []int{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}},
		{"priority", NewPriorityQueue(0, func(a, b int) bool { return a%5 > b%5 }), []int{4, 9, 3, 8, 2, 7, 1, 6, 0, 5}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := require.New(t)

			for i := range 10 {
				r.NoError(tc.q.PutNowait(i))
			}
			r.False(tc.q.Full())
			r.Zero(tc.q.Maxsize())

			var got []int
			for !tc.q.Empty() {
				v, err := tc.q.GetNowait()
				r.NoError(err)
				got = append(got, v)
			}
			r.Equal(tc.want, got)

			_, err := tc.q.GetNowait()
			r.ErrorIs(err, ErrEmpty)
		})
	}
}

func TestQueueProducerConsumer(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	q := NewQueue[int](2)
	const items = 20
	var got []int

	s.Spawn(func(_ context.Context, f *Fiber) error {
		for range 3 {
			f.Go(func(ctx context.Context) error {
				f := MustFiberFromContext(ctx)
				for {
					v, err := q.Get(f, true, 0)
					if err != nil {
						return err
					}
					got = append(got, v)
					f.Yield()
					r.NoError(q.TaskDone())
				}
			})
		}

		for i := range items {
			r.NoError(q.Put(f, i, true, 0))
			r.LessOrEqual(q.Qsize(), 2)
		}
		r.NoError(q.Join(f))
		r.Equal(0, q.Unfinished())
		r.Len(got, items)

		s.Abort()
		return nil
	})

	r.ErrorIs(s.Run(context.Background()), ErrAborted)
	for i, v := range got {
		r.Equal(i, v)
	}
}

func TestQueueTimeouts(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	q := NewQueue[string](1)
	s.Spawn(func(_ context.Context, f *Fiber) error {
		_, err := q.Get(f, true, 10*time.Millisecond)
		r.ErrorIs(err, ErrEmpty)
		r.ErrorIs(err, ErrTimeout)

		_, err = q.Get(f, false, 0)
		r.ErrorIs(err, ErrEmpty)

		r.NoError(q.Put(f, "a", true, time.Second))
		err = q.Put(f, "b", true, 10*time.Millisecond)
		r.ErrorIs(err, ErrFull)
		r.ErrorIs(err, ErrTimeout)
		r.ErrorIs(q.Put(f, "b", false, 0), ErrFull)

		r.Equal(0, q.notFull.Waiters())
		r.Equal(0, q.notEmpty.Waiters())
		r.False(q.mu.Locked())
		return nil
	})

	r.NoError(s.Run(context.Background()))
}

func TestQueueJoin(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	q := NewLifoQueue[int](0)
	const n = 5
	joined := false

	s.Spawn(func(_ context.Context, f *Fiber) error {
		for i := range n {
			r.NoError(q.Put(f, i, true, 0))
		}
		f.Go(func(ctx context.Context) error {
			f := MustFiberFromContext(ctx)
			for range n {
				if _, err := q.Get(f, true, 0); err != nil {
					return err
				}
				r.False(joined)
				r.NoError(q.TaskDone())
				f.Yield()
			}
			return nil
		})

		r.NoError(q.Join(f))
		joined = true

		err := q.TaskDone()
		r.ErrorIs(err, ErrUsage)
		return nil
	})

	r.NoError(s.Run(context.Background()))
	r.True(joined)
	r.NoError(q.Join(nil))
	r.NoError(q.PutNowait(n))
	r.ErrorIs(q.Join(nil), ErrNotInFiber)
}

func TestQueueGetTimeoutRacingPut(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	q := NewQueue[string](0)
	var got string
	s.Spawn(func(_ context.Context, f *Fiber) error {
		v, err := q.Get(f, true, 5*time.Millisecond)
		got = v
		return err
	})
	s.Spawn(func(_ context.Context, f *Fiber) error {
		// Block the scheduler past the getter's deadline so the timeout and
		// the put land in the same round.
		time.Sleep(20 * time.Millisecond)
		f.Yield()
		return q.PutNowait("late")
	})

	r.NoError(s.Run(context.Background()))
	r.Equal("late", got)
	r.Zero(q.Qsize())
}

func TestPriorityQueueTies(t *testing.T) {
	r := require.New(t)

	type job struct {
		prio int
		name string
	}
	q := NewPriorityQueue(0, func(a, b job) bool { return a.prio < b.prio })
	for _, j := range []job{{2, "a"}, {1, "b"}, {2, "c"}, {1, "d"}, {0, "e"}, {2, "f"}} {
		r.NoError(q.PutNowait(j))
	}

	var names []string
	for q.Qsize() > 0 {
		j, err := q.GetNowait()
		r.NoError(err)
		names = append(names, j.name)
	}
	r.Equal([]string{"e", "b", "d", "a", "c", "f"}, names)
}
