package filament

import (
	"context"
	"fmt"
	"runtime/debug"
	"runtime/trace"
	"strconv"
	"strings"
	"time"

	"github.com/webriots/coro"
)

const (
	traceTaskType   = "filament-run"
	traceRegionType = "filament-fiber"
	traceCategory   = "filament"
)

// State is the scheduling state of a fiber.
type State uint8

const (
	StateRunnable State = iota
	StateRunning
	StateSuspended
	StateDead
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateDead:
		return "dead"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Fiber is a cooperatively scheduled thread of control. The value returned
// by Spawn doubles as the handle used to wait for or cancel it.
type Fiber struct {
	id        uint64
	path      string
	sched     *Scheduler
	base      context.Context
	ctx       context.Context
	fn        func(context.Context, *Fiber) error
	resume    func(wake) (struct{}, bool)
	suspend   func() wake
	cancel    func()
	state     State
	out       wake
	waiting   *waiter
	err       error
	cancelErr error
	unwinding bool
	joiners   waitList
	holds     []heldLock
	single    *singleFlight
}

// heldLock is implemented by locks that must be released when their
// holder dies.
type heldLock interface {
	forceRelease(f *Fiber)
}

func newFiber(s *Scheduler, base context.Context, parent *Fiber, fn func(context.Context, *Fiber) error) *Fiber {
	s.nextID++
	f := &Fiber{
		id:    s.nextID,
		sched: s,
		base:  base,
		fn:    fn,
		state: StateRunnable,
		out:   wakeSignaled,
	}
	if parent != nil {
		f.path = parent.path
		f.single = parent.single
	} else {
		f.single = newSingleFlight()
	}
	f.path += strconv.FormatUint(f.id, 10) + "|"

	f.resume, f.cancel = coro.New(
		func(_ func(struct{}) wake, suspend func() wake) (z struct{}) {
			f.suspend = suspend
			f.main()
			return
		},
	)
	return f
}

func (f *Fiber) main() {
	region := trace.StartRegion(f.ctx, traceRegionType)
	defer region.End()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if u, ok := r.(*unwindSignal); ok && u.fiber == f {
			f.err = u.err
			return
		}
		if perr, ok := r.(*PanicError); ok {
			f.err = perr
			return
		}
		f.err = &PanicError{Value: r, Stack: debug.Stack()}
	}()

	if f.cancelErr != nil {
		f.err = f.cancelErr
		return
	}

	f.err = f.fn(f.ctx, f)
}

// ID returns the fiber's identity, unique within its scheduler.
func (f *Fiber) ID() uint64 { return f.id }

// Scheduler returns the owning scheduler.
func (f *Fiber) Scheduler() *Scheduler { return f.sched }

// Context returns the context passed to the fiber's entry function, or nil
// before it first runs.
func (f *Fiber) Context() context.Context { return f.ctx }

// State returns the current scheduling state.
func (f *Fiber) State() State { return f.state }

// Done reports whether the fiber has finished.
func (f *Fiber) Done() bool { return f.state == StateDead }

// Err returns the fiber's result once Done.
func (f *Fiber) Err() error { return f.err }

// Spawn starts a child fiber inheriting f's context.
func (f *Fiber) Spawn(fn func(context.Context, *Fiber) error) *Fiber {
	return f.sched.spawnctx(f.ctx, f, fn)
}

// Go is Spawn for entry functions that do not need their fiber.
func (f *Fiber) Go(fn func(context.Context) error) *Fiber {
	return f.Spawn(func(ctx context.Context, _ *Fiber) error { return fn(ctx) })
}

// Yield moves f to the back of the ready queue and runs the next ready
// fiber.
func (f *Fiber) Yield() {
	if err := f.sched.checkCaller(f, "yield"); err != nil {
		panic(err)
	}
	if f.cancelErr != nil && !f.unwinding {
		_ = f.interrupt()
	}
	f.state = StateRunnable
	f.out = wakeSignaled
	f.sched.ready.PushBack(f)
	f.suspend()
	if f.cancelErr != nil && !f.unwinding {
		_ = f.interrupt()
	}
}

// Wait blocks w until f is dead and returns f's result.
func (f *Fiber) Wait(w *Fiber) error {
	return f.WaitTimeout(w, 0)
}

// WaitTimeout is Wait bounded by timeout, returning ErrTimeout if f is
// still alive when it elapses. A non-positive timeout waits forever.
func (f *Fiber) WaitTimeout(w *Fiber, timeout time.Duration) error {
	if f.state == StateDead {
		return f.err
	}
	if err := f.sched.checkCaller(w, "wait"); err != nil {
		return err
	}
	if w == f {
		return usageError("wait", fmt.Errorf("fiber %d waiting on itself", f.id))
	}
	switch f.sched.block(w, &f.joiners, timeout) {
	case wakeSignaled:
		return f.err
	case wakeTimeout:
		return ErrTimeout
	default:
		return w.interrupt()
	}
}

// Cancel delivers ErrCanceled into f. A suspended fiber is resumed at once;
// a runnable one observes it at its next suspension point. The cause is
// raised as an unwinding panic, so deferred releases run, and becomes the
// fiber's result.
func (f *Fiber) Cancel() {
	f.sched.cancelFiber(f, ErrCanceled)
	if f == f.sched.current && !f.unwinding {
		_ = f.interrupt()
	}
}

// park suspends f, already registered through w, until w is woken. A
// pending cancellation short-circuits the suspension.
func (s *Scheduler) park(f *Fiber, w *waiter) wake {
	if w.done {
		return w.out
	}
	if f.cancelErr != nil && !f.unwinding {
		s.wake(w, wakeCanceled)
		return wakeCanceled
	}
	f.state = StateSuspended
	f.waiting = w
	out := f.suspend()
	f.waiting = nil
	return out
}

// resume makes a suspended fiber runnable; for any other state it is a
// no-op, which keeps racing wakeups harmless.
func (s *Scheduler) resume(f *Fiber, out wake) {
	if f == nil || f.state != StateSuspended {
		return
	}
	f.state = StateRunnable
	f.out = out
	s.ready.PushBack(f)
}

// beginUnwind marks f as unwinding, reporting whether this is the first
// cancellation it observes.
func (f *Fiber) beginUnwind() bool {
	first := !f.unwinding
	f.unwinding = true
	return first
}

// raise unwinds f's stack on the first cancellation; afterwards
// cancellation is reported as an error so cleanup code may still block.
func (f *Fiber) raise(first bool) error {
	if first {
		panic(&unwindSignal{fiber: f, err: f.cancelErr})
	}
	return f.cancelErr
}

func (f *Fiber) interrupt() error {
	return f.raise(f.beginUnwind())
}

func (f *Fiber) hold(l heldLock) {
	if f != nil {
		f.holds = append(f.holds, l)
	}
}

func (f *Fiber) unhold(l heldLock) {
	if f == nil {
		return
	}
	for i := len(f.holds) - 1; i >= 0; i-- {
		if f.holds[i] == l {
			f.holds = append(f.holds[:i], f.holds[i+1:]...)
			return
		}
	}
}

func (f *Fiber) context() context.Context {
	if f.ctx != nil {
		return f.ctx
	}
	return context.Background()
}

// Log records msg as a runtime/trace log event, prefixed with the fiber's
// spawn path.
func (f *Fiber) Log(msg string) {
	if trace.IsEnabled() {
		var sb strings.Builder
		sb.WriteString(f.path)
		sb.WriteRune(' ')
		sb.WriteString(msg)
		trace.Log(f.context(), traceCategory, sb.String())
	}
}

// Logf is Log with formatting.
func (f *Fiber) Logf(format string, args ...any) {
	if trace.IsEnabled() {
		var sb strings.Builder
		sb.WriteString(f.path)
		sb.WriteRune(' ')
		fmt.Fprintf(&sb, format, args...)
		trace.Log(f.context(), traceCategory, sb.String())
	}
}
