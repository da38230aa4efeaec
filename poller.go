package filament

import (
	"math"
	"time"
)

// poller is the platform readiness facility. It is used only from the
// scheduler's goroutine, except for wakeup.
type poller interface {
	// modify sets the interest for fd; zero removes it.
	modify(fd int, events IOEvents) error
	// wait blocks up to timeout (negative: forever) and calls fn for each
	// ready fd. A wakeup or signal interruption returns early with no events.
	wait(timeout time.Duration, fn func(fd int, ev IOEvents)) error
	// wakeup interrupts a concurrent or subsequent wait. Safe for concurrent
	// use.
	wakeup() error
	close() error
}

// timeoutMillis rounds d up to whole milliseconds so that a deadline is
// never polled for too briefly.
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
