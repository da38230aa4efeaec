package filament

import "context"

// fiberContextKey is the context key for the running fiber.
type fiberContextKey struct{}

func withFiberContext(ctx context.Context, f *Fiber) context.Context {
	return context.WithValue(ctx, fiberContextKey{}, f)
}

// FiberFromContext returns the fiber whose entry function received ctx or
// a context derived from it.
func FiberFromContext(ctx context.Context) (*Fiber, bool) {
	val, ok := ctx.Value(fiberContextKey{}).(*Fiber)
	return val, ok
}

// MustFiberFromContext is FiberFromContext, panicking if ctx carries no
// fiber.
func MustFiberFromContext(ctx context.Context) *Fiber {
	val, ok := FiberFromContext(ctx)
	if !ok {
		panic("filament: fiber not found in context")
	}
	return val
}
