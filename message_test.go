package filament

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	m := NewMessage[string]()
	got := 0
	for range 3 {
		s.Spawn(func(_ context.Context, f *Fiber) error {
			v, err := m.Wait(f, 0)
			r.NoError(err)
			r.Equal("hello", v)
			got++
			return nil
		})
	}
	s.Spawn(func(_ context.Context, f *Fiber) error {
		f.Yield()
		r.False(m.Ready())
		r.NoError(m.Send("hello"))
		r.True(m.Ready())

		err := m.Send("again")
		r.ErrorIs(err, ErrUsage)
		r.ErrorIs(m.SendError(errors.New("x")), ErrUsage)
		return nil
	})

	r.NoError(s.Run(context.Background()))
	r.Equal(3, got)

	v, err := m.Wait(nil, 0)
	r.NoError(err)
	r.Equal("hello", v)
}

func TestMessageTimeout(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	m := NewMessage[int]()
	s.Spawn(func(_ context.Context, f *Fiber) error {
		_, err := m.Wait(f, 10*time.Millisecond)
		r.ErrorIs(err, ErrTimeout)
		r.Equal(0, m.waiters.len())
		return nil
	})

	r.NoError(s.Run(context.Background()))
	_, err := m.Wait(nil, 0)
	r.ErrorIs(err, ErrNotInFiber)
}

func TestMessageAsync(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	ok := NewMessage[int]()
	bad := NewMessage[int]()
	boom := errors.New("boom")

	s.Spawn(func(_ context.Context, f *Fiber) error {
		release := s.Hold()
		go func() {
			defer release()
			time.Sleep(5 * time.Millisecond)
			_ = ok.SendAsync(s, 42)
			_ = bad.SendErrorAsync(s, boom)
		}()

		v, err := ok.Wait(f, 0)
		r.NoError(err)
		r.Equal(42, v)

		_, err = bad.Wait(f, 0)
		r.ErrorIs(err, boom)
		return nil
	})

	r.NoError(s.Run(context.Background()))
	r.Zero(s.Stats().Pending)
}

func TestMessageAsyncWithoutHoldDeadlocks(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	m := NewMessage[int]()
	s.Spawn(func(_ context.Context, f *Fiber) error {
		_, err := m.Wait(f, 0)
		return err
	})

	r.ErrorIs(s.Run(context.Background()), ErrDeadlock)
}

func TestOffload(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t, WithOffloadLimit(2))

	var running, peak atomic.Int32
	results := make([]int, 6)
	for i := range results {
		s.Spawn(func(_ context.Context, f *Fiber) error {
			v, err := Offload(f, func(ctx context.Context) (int, error) {
				n := running.Add(1)
				defer running.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				return i * i, ctx.Err()
			})
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}

	r.NoError(s.Run(context.Background()))
	r.Equal([]int{0, 1, 4, 9, 16, 25}, results)
	r.LessOrEqual(peak.Load(), int32(2))
	r.Zero(s.Stats().Pending)
}

func TestOffloadPanic(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	f := s.Spawn(func(_ context.Context, f *Fiber) error {
		_, err := Offload(f, func(context.Context) (struct{}, error) {
			panic("offloaded")
		})
		return err
	})

	r.NoError(s.Run(context.Background()))
	var perr *PanicError
	r.ErrorAs(f.Err(), &perr)
	r.Equal("offloaded", perr.Value)

	_, err := Offload(nil, func(context.Context) (int, error) { return 0, nil })
	r.ErrorIs(err, ErrNotInFiber)
}
