package filament

import (
	"errors"
	"time"
)

var errAlreadySent = errors.New("message already sent")

// Message is a one-shot slot carrying a value or an error to any number of
// waiting fibers. It is the only primitive with entry points usable from
// other goroutines: SendAsync and SendErrorAsync.
type Message[T any] struct {
	noCopy  noCopy
	sent    bool
	v       T
	err     error
	waiters waitList
}

// NewMessage returns an unsent message.
func NewMessage[T any]() *Message[T] {
	return new(Message[T])
}

// Send stores v and wakes every waiter. A message can be sent only once.
func (m *Message[T]) Send(v T) error {
	return m.deliver(v, nil)
}

// SendError stores err as the message's outcome and wakes every waiter.
func (m *Message[T]) SendError(err error) error {
	var zero T
	return m.deliver(zero, err)
}

func (m *Message[T]) deliver(v T, err error) error {
	if m.sent {
		return usageError("message send", errAlreadySent)
	}
	m.sent, m.v, m.err = true, v, err
	m.waiters.notify(m.waiters.len())
	return nil
}

// SendAsync is Send for goroutines other than the one running s. The
// message is delivered on s between fiber switches.
func (m *Message[T]) SendAsync(s *Scheduler, v T) error {
	return s.submit(func() { s.logSendError(m.Send(v)) })
}

// SendErrorAsync is SendError for goroutines other than the one running s.
func (m *Message[T]) SendErrorAsync(s *Scheduler, err error) error {
	return s.submit(func() { s.logSendError(m.SendError(err)) })
}

// Ready reports whether the message has been sent.
func (m *Message[T]) Ready() bool {
	return m.sent
}

// Wait blocks f until the message is sent and returns its value or error.
// A positive timeout bounds the wait (ErrTimeout).
func (m *Message[T]) Wait(f *Fiber, timeout time.Duration) (T, error) {
	var zero T
	if m.sent {
		return m.v, m.err
	}
	if f == nil {
		return zero, usageError("message wait", ErrNotInFiber)
	}
	if err := f.sched.checkCaller(f, "message wait"); err != nil {
		return zero, err
	}

	switch f.sched.block(f, &m.waiters, timeout) {
	case wakeSignaled:
		return m.v, m.err
	case wakeTimeout:
		return zero, ErrTimeout
	default:
		return zero, f.interrupt()
	}
}

func (s *Scheduler) logSendError(err error) {
	if err != nil {
		s.log.Warning().
			Str("sched", s.name).
			Err(err).
			Log("async message dropped")
	}
}
