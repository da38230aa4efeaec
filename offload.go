package filament

import (
	"context"
	"runtime/debug"
)

// Offload runs fn on its own goroutine and suspends f until it returns.
// Use it for blocking work that has no readiness fd, such as DNS lookups or
// file system calls. At most WithOffloadLimit calls run at once per
// scheduler; the rest queue for a slot.
//
// fn's context is canceled if f unwinds before fn returns. Outstanding
// offloads keep Run from returning.
func Offload[T any](f *Fiber, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if f == nil {
		return zero, usageError("offload", ErrNotInFiber)
	}
	s := f.sched
	if err := s.checkCaller(f, "offload"); err != nil {
		return zero, err
	}

	ctx, cancel := context.WithCancel(f.context())
	defer cancel()

	m := NewMessage[T]()
	s.pending++
	go func() {
		v, err := runOffload(ctx, s, fn)
		if serr := s.submit(func() {
			s.pending--
			_ = m.deliver(v, err)
		}); serr != nil {
			s.log.Warning().
				Str("sched", s.name).
				Err(serr).
				Log("offload result dropped")
		}
	}()

	return m.Wait(f, 0)
}

func runOffload[T any](ctx context.Context, s *Scheduler, fn func(context.Context) (T, error)) (v T, err error) {
	if err = s.offload.Acquire(ctx, 1); err != nil {
		return v, err
	}
	defer s.offload.Release(1)

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	return fn(ctx)
}
