package filament

import (
	"errors"
	"fmt"
)

var (
	// ErrEmpty is returned by a non-blocking Get on an empty queue.
	ErrEmpty = errors.New("filament: queue empty")
	// ErrFull is returned by a non-blocking Put on a full queue.
	ErrFull = errors.New("filament: queue full")
	// ErrTimeout is returned when the deadline of a blocking wait elapses.
	ErrTimeout = errors.New("filament: timeout")
	// ErrWouldBlock is returned by a non-blocking acquire that cannot be
	// satisfied immediately.
	ErrWouldBlock = errors.New("filament: would block")
	// ErrAborted is delivered to every live fiber by Scheduler.Abort.
	ErrAborted = errors.New("filament: scheduler aborted")
	// ErrCanceled is delivered to a fiber by Fiber.Cancel.
	ErrCanceled = errors.New("filament: fiber canceled")
	// ErrDeadlock is returned by Run, and delivered to the stuck fibers, when
	// every live fiber is suspended and nothing can wake any of them.
	ErrDeadlock = errors.New("filament: all fibers are asleep")
	// ErrClosed is returned by readiness waits on an fd that was
	// unregistered, and by a closed scheduler.
	ErrClosed = errors.New("filament: closed")
	// ErrUnsupported is returned by fd waits on platforms without a poller.
	ErrUnsupported = errors.New("filament: fd polling unsupported on this platform")

	// ErrUsage matches every *UsageError.
	ErrUsage = errors.New("filament: usage error")

	ErrNotHeld    = errors.New("release of unheld lock")
	ErrNotOwner   = errors.New("lock not held by calling fiber")
	ErrNotInFiber = errors.New("blocking call outside of a fiber")
)

// UsageError reports a programming error, e.g. TaskDone called too many
// times. It is fatal to the call and never retried.
type UsageError struct {
	Op     string
	Reason error
}

func usageError(op string, reason error) *UsageError {
	return &UsageError{Op: op, Reason: reason}
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("filament: %s: %v", e.Op, e.Reason)
}

// Unwrap returns the reason, so errors.Is(err, ErrNotHeld) works.
func (e *UsageError) Unwrap() error { return e.Reason }

// Is reports whether target is ErrUsage.
func (e *UsageError) Is(target error) bool { return target == ErrUsage }

// PanicError wraps a value recovered from a panicking fiber. It is stored
// as the fiber's result and returned by Fiber.Wait.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("filament: fiber panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// DebugString includes the stack of the panicking fiber.
func (e *PanicError) DebugString() string {
	return fmt.Sprintf("%s\n\n%s", e.Error(), e.Stack)
}

// unwindSignal is the panic value used to unwind a canceled fiber. It is
// recovered by the fiber entry and never escapes the scheduler.
type unwindSignal struct {
	fiber *Fiber
	err   error
}
