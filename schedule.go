package filament

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/trace"
	"slices"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/semaphore"
)

// Scheduler owns a set of fibers and runs them one at a time on the
// goroutine calling Run. Fibers switch only at suspension points, so code
// between two suspension points is atomic with respect to other fibers.
//
// A Scheduler is not safe for concurrent use. The only entry points that
// may be used from other goroutines are Message.SendAsync and
// Message.SendErrorAsync.
type Scheduler struct {
	noCopy   noCopy
	name     string
	log      *logiface.Logger[logiface.Event]
	ctx      context.Context
	ready    deque.Deque[*Fiber]
	fibers   map[uint64]*Fiber
	current  *Fiber
	nextID   uint64
	timers   timerQueue
	fds      map[int]*fdEntry
	poll     poller
	ingress  ingress
	offload  *semaphore.Weighted
	pending  int
	switches uint64
	running  bool
	aborted  bool
	closed   bool
}

// ingress carries work submitted from other goroutines.
type ingress struct {
	mu     sync.Mutex
	q      deque.Deque[func()]
	closed bool
}

// Stats is a snapshot of scheduler bookkeeping.
type Stats struct {
	Live     int    // Fibers not yet dead
	Ready    int    // Fibers in the ready queue
	Timers   int    // Pending deadlines
	FDs      int    // File descriptors with waiting fibers
	Pending  int    // Outstanding offloads and holds
	Switches uint64 // Fiber switches performed
}

// New creates a scheduler. Close it to release the poller.
func New(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	p, err := newPoller(cfg.pollBatch)
	if err != nil {
		return nil, fmt.Errorf("filament: create poller: %w", err)
	}

	s := &Scheduler{
		name:    cfg.name,
		log:     cfg.logger,
		fibers:  make(map[uint64]*Fiber),
		fds:     make(map[int]*fdEntry),
		poll:    p,
		offload: semaphore.NewWeighted(cfg.offloadLimit),
	}

	s.log.Debug().
		Str("sched", s.name).
		Log("scheduler created")

	return s, nil
}

// Name returns the scheduler name used in log events.
func (s *Scheduler) Name() string { return s.name }

// Spawn creates a runnable fiber at the tail of the ready queue.
func (s *Scheduler) Spawn(fn func(context.Context, *Fiber) error) *Fiber {
	return s.spawnctx(nil, s.current, fn)
}

// Go is Spawn for entry functions that do not need their fiber.
func (s *Scheduler) Go(fn func(context.Context) error) *Fiber {
	return s.Spawn(func(ctx context.Context, _ *Fiber) error { return fn(ctx) })
}

func (s *Scheduler) spawnctx(ctx context.Context, parent *Fiber, fn func(context.Context, *Fiber) error) *Fiber {
	f := newFiber(s, ctx, parent, fn)
	if s.aborted {
		// Spawned by cleanup code during an abort.
		f.cancelErr = ErrAborted
	}
	s.fibers[f.id] = f
	s.ready.PushBack(f)

	s.log.Trace().
		Str("sched", s.name).
		Uint64("fiber", f.id).
		Log("fiber spawned")

	return f
}

// Current returns the running fiber, or nil outside of fibers.
func (s *Scheduler) Current() *Fiber { return s.current }

// CurrentID returns the running fiber's ID, or 0 outside of fibers.
func (s *Scheduler) CurrentID() uint64 {
	if s.current == nil {
		return 0
	}
	return s.current.id
}

// Stats returns a snapshot of the scheduler's bookkeeping.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Live:     len(s.fibers),
		Ready:    s.ready.Len(),
		Timers:   s.timers.len(),
		FDs:      len(s.fds),
		Pending:  s.pending,
		Switches: s.switches,
	}
}

// Run drives the fibers until none are left. With nothing runnable it
// blocks in the poller until the nearest deadline, fd readiness or an
// ingress wakeup; this is the only place the goroutine blocks.
//
// Run returns ErrDeadlock if live fibers are suspended with nothing able to
// wake them; those fibers are unwound with ErrDeadlock first. If ctx is
// done, every fiber is unwound with ctx.Err() and that error is returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if s.running {
		return usageError("run", errors.New("scheduler already running"))
	}

	var tracer *trace.Task
	ctx, tracer = trace.NewTask(ctx, traceTaskType)
	defer tracer.End()

	stop := context.AfterFunc(ctx, func() { _ = s.wakeup() })
	defer stop()

	trace.Log(ctx, traceCategory, "RUN")
	err := s.run(ctx)
	trace.Log(ctx, traceCategory, "RUN DONE")
	return err
}

func (s *Scheduler) run(ctx context.Context) error {
	s.running = true
	s.ctx = ctx
	defer func() { s.running = false }()

	var (
		cause      error
		deadlocked bool
	)

	for {
		if cause == nil {
			if err := ctx.Err(); err != nil {
				cause = err
				s.log.Info().
					Str("sched", s.name).
					Err(err).
					Log("context done, unwinding fibers")
				s.cancelAll(err)
			}
		}

		s.runRound()
		s.drainIngress()
		s.timers.expire(time.Now())

		if s.ready.Len() > 0 {
			if len(s.fds) > 0 {
				if err := s.pollOnce(0); err != nil {
					return err
				}
			}
			continue
		}

		if len(s.fibers) == 0 && (cause != nil || (s.timers.len() == 0 && s.pending == 0)) {
			break
		}

		if len(s.fibers) > 0 && s.timers.len() == 0 && s.pending == 0 && len(s.fds) == 0 {
			deadlocked = true
			s.log.Warning().
				Str("sched", s.name).
				Int("fibers", len(s.fibers)).
				Log("deadlock, unwinding suspended fibers")
			s.cancelAll(ErrDeadlock)
			continue
		}

		timeout := time.Duration(-1)
		if next, ok := s.timers.next(); ok {
			timeout = max(time.Until(next), 0)
		}
		if err := s.pollOnce(timeout); err != nil {
			return err
		}
	}

	switch {
	case deadlocked:
		return ErrDeadlock
	case cause != nil:
		return cause
	case s.aborted:
		s.aborted = false
		return ErrAborted
	}
	return nil
}

// runRound runs the fibers that were ready when the round started, so
// deadlines and readiness are checked between rounds even while fibers
// keep yielding.
func (s *Scheduler) runRound() {
	for n := s.ready.Len(); n > 0 && s.ready.Len() > 0; n-- {
		s.switchTo(s.ready.PopFront())
	}
}

func (s *Scheduler) switchTo(f *Fiber) {
	if f.state != StateRunnable {
		return
	}
	if f.ctx == nil {
		base := f.base
		if base == nil {
			base = s.ctx
		}
		if base == nil {
			base = context.Background()
		}
		f.ctx = withFiberContext(base, f)
	}

	f.state = StateRunning
	out := f.out
	f.out = wakeNone
	s.current = f
	s.switches++

	_, alive := f.resume(out)

	s.current = nil
	if !alive {
		s.finish(f)
	}
}

// finish retires a dead fiber. Locks it still holds are released, handing
// off to their waiters, before its own waiters are woken.
func (s *Scheduler) finish(f *Fiber) {
	f.state = StateDead
	delete(s.fibers, f.id)

	if len(f.holds) > 0 {
		s.log.Warning().
			Str("sched", s.name).
			Uint64("fiber", f.id).
			Int("locks", len(f.holds)).
			Log("fiber died holding locks")
		for _, l := range slices.Clone(f.holds) {
			l.forceRelease(f)
		}
		f.holds = nil
	}

	var perr *PanicError
	if errors.As(f.err, &perr) {
		s.log.Err().
			Str("sched", s.name).
			Uint64("fiber", f.id).
			Err(perr).
			Str("stack", string(perr.Stack)).
			Log("fiber panicked")
	} else {
		s.log.Trace().
			Str("sched", s.name).
			Uint64("fiber", f.id).
			Err(f.err).
			Log("fiber finished")
	}

	s.wakeAll(&f.joiners, wakeSignaled)
	f.resume, f.suspend, f.cancel, f.fn = nil, nil, nil, nil
}

// cancelFiber delivers cause into f. The first cause sticks.
func (s *Scheduler) cancelFiber(f *Fiber, cause error) {
	if f.state == StateDead {
		return
	}
	if f.cancelErr == nil {
		f.cancelErr = cause
	}
	if f.state == StateSuspended {
		s.wake(f.waiting, wakeCanceled)
	}
}

func (s *Scheduler) cancelAll(cause error) {
	for _, id := range slices.Sorted(maps.Keys(s.fibers)) {
		if f := s.fibers[id]; f != s.current {
			s.cancelFiber(f, cause)
		}
	}
}

// Abort unwinds every live fiber with ErrAborted. Called from inside a
// fiber, the caller unwinds too and Run returns ErrAborted once all fibers
// are gone; called from outside, Abort drives the fibers to completion
// before returning.
func (s *Scheduler) Abort() {
	s.log.Debug().
		Str("sched", s.name).
		Int("fibers", len(s.fibers)).
		Log("abort")

	s.cancelAll(ErrAborted)
	if s.running || len(s.fibers) > 0 {
		s.aborted = true
	}
	if cur := s.current; cur != nil {
		s.cancelFiber(cur, ErrAborted)
		if !cur.unwinding {
			_ = cur.interrupt()
		}
		return
	}
	if !s.running && len(s.fibers) > 0 {
		_ = s.run(context.Background())
		s.aborted = false
	}
}

// Close aborts any remaining fibers and releases the poller.
func (s *Scheduler) Close() error {
	if s.closed {
		return nil
	}
	if s.running {
		return usageError("close", errors.New("scheduler running"))
	}
	s.Abort()
	for _, f := range s.fibers {
		if f.cancel != nil {
			f.cancel()
		}
	}
	s.closed = true

	s.ingress.mu.Lock()
	s.ingress.closed = true
	s.ingress.q.Clear()
	err := s.poll.close()
	s.ingress.mu.Unlock()

	s.log.Debug().
		Str("sched", s.name).
		Log("scheduler closed")

	return err
}

// Hold keeps Run from treating suspended fibers as deadlocked until the
// returned release is called. Use it while another goroutine owes a fiber
// a Message.SendAsync. Hold must be called on the scheduler's goroutine;
// release may be called from any goroutine, and only its first call
// counts.
func (s *Scheduler) Hold() (release func()) {
	s.pending++
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := s.submit(func() { s.pending-- }); err != nil {
				s.log.Debug().
					Str("sched", s.name).
					Err(err).
					Log("hold released after close")
			}
		})
	}
}

// submit queues fn to run on the scheduler's goroutine. Safe for
// concurrent use.
func (s *Scheduler) submit(fn func()) error {
	s.ingress.mu.Lock()
	if s.ingress.closed {
		s.ingress.mu.Unlock()
		return ErrClosed
	}
	s.ingress.q.PushBack(fn)
	err := s.poll.wakeup()
	s.ingress.mu.Unlock()
	return err
}

// wakeup interrupts the poller unless the scheduler is closed. Safe for
// concurrent use.
func (s *Scheduler) wakeup() error {
	s.ingress.mu.Lock()
	defer s.ingress.mu.Unlock()
	if s.ingress.closed {
		return ErrClosed
	}
	return s.poll.wakeup()
}

func (s *Scheduler) drainIngress() {
	for {
		s.ingress.mu.Lock()
		if s.ingress.q.Len() == 0 {
			s.ingress.mu.Unlock()
			return
		}
		fn := s.ingress.q.PopFront()
		s.ingress.mu.Unlock()
		fn()
	}
}

func (s *Scheduler) pollOnce(timeout time.Duration) error {
	if err := s.poll.wait(timeout, s.dispatch); err != nil {
		s.log.Err().
			Str("sched", s.name).
			Err(err).
			Log("poll failed")
		return fmt.Errorf("filament: poll: %w", err)
	}
	return nil
}

// checkCaller verifies f is this scheduler's running fiber.
func (s *Scheduler) checkCaller(f *Fiber, op string) error {
	if f == nil || f.sched != s || s.current != f {
		return usageError(op, ErrNotInFiber)
	}
	return nil
}
