package filament

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitGroup(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	expect, n := 100, 0
	s.Spawn(func(_ context.Context, f *Fiber) error {
		var wg WaitGroup

		for i := 0; i < expect-1; i++ {
			wg.Add(1)
			f.Spawn(func(_ context.Context, f *Fiber) error {
				defer wg.Done()
				if i%2 == 0 {
					f.Yield()
				}
				n++
				return nil
			})
		}

		r.NoError(wg.Wait(f))
		n++
		return nil
	})

	r.NoError(s.Run(context.Background()))
	r.Equal(expect, n)
}

func TestWaitGroupNegative(t *testing.T) {
	r := require.New(t)

	var wg WaitGroup
	r.NoError(wg.Wait(nil))
	wg.Add(1)
	r.ErrorIs(wg.Wait(nil), ErrNotInFiber)
	wg.Done()
	r.Panics(wg.Done)
}

func TestGroup(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	x, y, z := 0, 0, 0
	s.Spawn(func(ctx context.Context, f *Fiber) error {
		x++
		concurrent := 0
		for range 10 {
			concurrent++
			r.Equal(1, concurrent)
			group := f.Group()
			for range 10 {
				y++
				group.Go(func(ctx context.Context) error {
					f, ok := FiberFromContext(ctx)
					r.True(ok)
					r.NoError(f.Sleep(time.Microsecond))

					groupN := f.Group()
					r.NoError(groupN.Wait(f))

					for range 10 {
						groupN = NewErrGroup(f)
						groupN.GoWithContext(f.Context(), func(ctx context.Context) error {
							z++
							MustFiberFromContext(ctx).Yield()
							return nil
						})
						r.NoError(groupN.Wait(f))
					}
					return nil
				})
			}

			group.Go(func(context.Context) error {
				concurrent--
				return nil
			})

			r.NoError(group.Wait(f))
		}
		return nil
	})

	r.NoError(s.Run(context.Background()))
	r.Equal(1, x)
	r.Equal(100, y)
	r.Equal(1000, z)
}

func TestGroupFirstError(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	first := errors.New("first")
	s.Spawn(func(_ context.Context, f *Fiber) error {
		g := f.Group()
		var gctx context.Context
		g.Go(func(ctx context.Context) error {
			gctx = ctx
			f := MustFiberFromContext(ctx)
			r.NoError(f.Sleep(5 * time.Millisecond))
			return errors.New("second")
		})
		g.Go(func(context.Context) error {
			return first
		})

		r.ErrorIs(g.Wait(f), first)
		r.ErrorIs(context.Cause(gctx), first)
		r.Panics(func() {
			g.GoWithContext(context.Background(), func(context.Context) error { return nil })
		})
		return nil
	})

	r.NoError(s.Run(context.Background()))
}

func TestSingleFlight(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	n := 0
	s.Spawn(func(_ context.Context, f *Fiber) error {
		for i := range 100 {
			f.Spawn(func(_ context.Context, f *Fiber) error {
				v, err, shared := f.Do("test-key", func() (any, error) {
					defer func() { n++ }()
					if err := f.Sleep(time.Millisecond); err != nil {
						return nil, err
					}
					return strconv.Itoa(i), nil
				})
				r.Equal("0", v)
				r.NoError(err)
				r.True(shared)
				return nil
			})
		}
		n++
		return nil
	})

	r.NoError(s.Run(context.Background()))
	r.Equal(2, n)
}

func TestSingleFlightSeparateTrees(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	calls := 0
	for range 2 {
		s.Spawn(func(_ context.Context, f *Fiber) error {
			_, _, shared := f.Do("k", func() (any, error) {
				calls++
				f.Yield()
				return nil, nil
			})
			r.False(shared)
			return nil
		})
	}

	r.NoError(s.Run(context.Background()))
	r.Equal(2, calls)
}

func TestGroupMemberPanic(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	var (
		member *Fiber
		gctx   context.Context
	)
	s.Spawn(func(_ context.Context, f *Fiber) error {
		g := f.Group()
		g.Go(func(ctx context.Context) error {
			gctx = ctx
			member = MustFiberFromContext(ctx)
			panic("boom")
		})

		err := g.Wait(f)
		var perr *PanicError
		r.ErrorAs(err, &perr)
		r.Equal("boom", perr.Value)
		r.ErrorIs(context.Cause(gctx), err)
		return nil
	})

	r.NoError(s.Run(context.Background()))
	var perr *PanicError
	r.ErrorAs(member.Err(), &perr)
	r.Equal("boom", perr.Value)
}

func TestGroupMemberCanceled(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	s.Spawn(func(_ context.Context, f *Fiber) error {
		g := f.Group()
		var member *Fiber
		g.Go(func(ctx context.Context) error {
			member = MustFiberFromContext(ctx)
			return member.Sleep(time.Hour)
		})
		f.Yield()
		member.Cancel()

		r.ErrorIs(g.Wait(f), ErrCanceled)
		return nil
	})

	r.NoError(s.Run(context.Background()))
}

func TestGroupGoAfterWait(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	s.Spawn(func(_ context.Context, f *Fiber) error {
		g := f.Group()
		g.Go(func(context.Context) error { return nil })
		r.NoError(g.Wait(f))
		r.PanicsWithValue("filament: ErrGroup.Go called after Wait", func() {
			g.Go(func(context.Context) error { return nil })
		})
		return nil
	})

	r.NoError(s.Run(context.Background()))
	r.Zero(s.Stats().Live)
}
