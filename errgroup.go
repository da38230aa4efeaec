package filament

import (
	"context"
	"runtime/debug"
)

// ErrGroup manages a group of fibers and collects the first error that
// occurs. It provides methods to start new fibers and wait for all of
// them to complete.
type ErrGroup interface {
	// Go starts a new fiber with the group's context.
	Go(func(context.Context) error)
	// GoWithContext starts a new fiber with the specified context.
	GoWithContext(context.Context, func(context.Context) error)
	// Wait blocks until all fibers have completed and returns the first
	// error encountered.
	Wait(*Fiber) error
}

// errGroup implements ErrGroup. Its fibers are children of the fiber
// that created the group.
type errGroup struct {
	fiber  *Fiber                  // The fiber that created this group
	ctx    context.Context         // Context shared by the group's fibers
	cancel context.CancelCauseFunc // Cancels ctx with the first error
	wg     WaitGroup               // Tracks running members
	err    error                   // The first error encountered
	waited bool                    // Set once Wait has been called
}

// NewErrGroup creates a group whose members are children of f. Their
// context is canceled, with the error as cause, when the first member
// fails.
func NewErrGroup(f *Fiber) ErrGroup {
	return newErrGroup(f)
}

// Group is NewErrGroup(f).
func (f *Fiber) Group() ErrGroup {
	return newErrGroup(f)
}

func newErrGroup(f *Fiber) *errGroup {
	ctx, cancel := context.WithCancelCause(f.context())
	return &errGroup{fiber: f, ctx: ctx, cancel: cancel}
}

// Go starts a new fiber running fn with the group's context. If fn
// returns an error, panics or is canceled, the group's context is
// canceled. Calling Go after Wait panics.
func (g *errGroup) Go(fn func(context.Context) error) {
	g.goctx(g.ctx, fn)
}

// GoWithContext starts a new fiber with ctx, which must carry the fiber
// that created the group.
func (g *errGroup) GoWithContext(ctx context.Context, fn func(context.Context) error) {
	if f := MustFiberFromContext(ctx); f != g.fiber {
		panic("filament: ctx fiber does not match errgroup fiber")
	}
	g.goctx(ctx, fn)
}

func (g *errGroup) goctx(ctx context.Context, fn func(context.Context) error) {
	if g.waited {
		panic("filament: ErrGroup.Go called after Wait")
	}
	g.wg.Add(1)
	g.fiber.sched.spawnctx(ctx, g.fiber, func(ctx context.Context, f *Fiber) error {
		defer g.wg.Done()
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if u, ok := r.(*unwindSignal); ok && u.fiber == f {
				g.fail(u.err)
				panic(r)
			}
			perr, ok := r.(*PanicError)
			if !ok {
				perr = &PanicError{Value: r, Stack: debug.Stack()}
			}
			g.fail(perr)
			panic(perr)
		}()
		err := fn(ctx)
		g.fail(err)
		return err
	})
}

// fail records err as the group's result if it is the first failure.
func (g *errGroup) fail(err error) {
	if err != nil && g.err == nil {
		g.err = err
		g.cancel(g.err)
	}
}

// Wait blocks f until every member has finished and returns the first
// error, or nil.
func (g *errGroup) Wait(f *Fiber) error {
	g.waited = true
	if err := g.wg.Wait(f); err != nil {
		return err
	}
	g.cancel(g.err)
	return g.err
}
