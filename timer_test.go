package filament

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerQueue(t *testing.T) {
	r := require.New(t)

	var q timerQueue
	var fired []int
	now := time.Now()

	q.schedule(now.Add(30*time.Millisecond), func() { fired = append(fired, 3) })
	a := q.schedule(now.Add(10*time.Millisecond), func() { fired = append(fired, 1) })
	q.schedule(now.Add(10*time.Millisecond), func() { fired = append(fired, 2) })
	gone := q.schedule(now.Add(20*time.Millisecond), func() { fired = append(fired, 99) })

	next, ok := q.next()
	r.True(ok)
	r.Equal(a.when, next)

	r.True(q.cancel(gone))
	r.False(q.cancel(gone))
	r.False(q.cancel(nil))
	r.Equal(3, q.len())

	r.Equal(2, q.expire(now.Add(15*time.Millisecond)))
	r.False(q.cancel(a))
	r.Equal(1, q.expire(now.Add(time.Hour)))
	r.Equal([]int{1, 2, 3}, fired)

	_, ok = q.next()
	r.False(ok)
}

func TestSleepOrder(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	var order []string
	for _, tc := range []struct {
		name string
		d    time.Duration
	}{
		{"slow", 30 * time.Millisecond},
		{"fast", 10 * time.Millisecond},
		{"yield", 0},
	} {
		s.Spawn(func(_ context.Context, f *Fiber) error {
			if err := f.Sleep(tc.d); err != nil {
				return err
			}
			order = append(order, tc.name)
			return nil
		})
	}

	start := time.Now()
	r.NoError(s.Run(context.Background()))
	r.GreaterOrEqual(time.Since(start), 30*time.Millisecond)
	r.Equal([]string{"yield", "fast", "slow"}, order)
}

func TestAfterFunc(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	var fired, stopped bool
	s.AfterFunc(10*time.Millisecond, func(_ context.Context, f *Fiber) {
		r.Same(f, s.Current())
		fired = true
	})
	tm := s.AfterFunc(5*time.Millisecond, func(context.Context, *Fiber) {
		stopped = true
	})
	r.True(tm.Stop())
	r.False(tm.Stop())

	r.Equal(1, s.Stats().Timers)
	r.NoError(s.Run(context.Background()))
	r.True(fired)
	r.False(stopped)
}
