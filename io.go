package filament

import (
	"fmt"
	"time"
)

// IOEvents is a set of readiness conditions on a file descriptor.
type IOEvents uint32

const (
	// EventRead indicates the fd is readable.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the fd is writable.
	EventWrite
	// EventError indicates an error condition on the fd.
	EventError
	// EventHangup indicates the peer closed its end.
	EventHangup
)

func (ev IOEvents) String() string {
	if ev == 0 {
		return "none"
	}
	var b []byte
	for _, x := range [...]struct {
		bit  IOEvents
		name string
	}{
		{EventRead, "read"},
		{EventWrite, "write"},
		{EventError, "error"},
		{EventHangup, "hangup"},
	} {
		if ev&x.bit != 0 {
			if len(b) > 0 {
				b = append(b, '|')
			}
			b = append(b, x.name...)
		}
	}
	return string(b)
}

// fdEntry tracks the fibers waiting on one fd. An entry only exists while
// it has waiters; its interest set mirrors which lists are non-empty.
type fdEntry struct {
	fd      int
	readers waitList
	writers waitList
	events  IOEvents // Interest currently registered with the poller
}

// WaitReadable suspends f until fd is readable, the deadline passes
// (ErrTimeout) or fd is unregistered (ErrClosed). The zero deadline means
// none.
func (s *Scheduler) WaitReadable(f *Fiber, fd int, deadline time.Time) error {
	return s.waitFD(f, fd, EventRead, deadline, "wait readable")
}

// WaitWritable is WaitReadable for writability.
func (s *Scheduler) WaitWritable(f *Fiber, fd int, deadline time.Time) error {
	return s.waitFD(f, fd, EventWrite, deadline, "wait writable")
}

func (s *Scheduler) waitFD(f *Fiber, fd int, dir IOEvents, deadline time.Time, op string) error {
	if err := s.checkCaller(f, op); err != nil {
		return err
	}
	if fd < 0 {
		return usageError(op, fmt.Errorf("invalid fd %d", fd))
	}
	if !deadline.IsZero() && !deadline.After(time.Now()) {
		return ErrTimeout
	}

	e := s.fds[fd]
	if e == nil {
		e = &fdEntry{fd: fd}
		s.fds[fd] = e
	}
	list := &e.readers
	if dir == EventWrite {
		list = &e.writers
	}

	w := s.enqueue(f, list, deadline)
	if err := s.syncInterest(e); err != nil {
		s.dequeue(w)
		_ = s.syncInterest(e)
		return fmt.Errorf("filament: %s fd %d: %w", op, fd, err)
	}

	out := s.park(f, w)

	// Timeouts and cancellation leave the interest set stale.
	if e := s.fds[fd]; e != nil {
		if err := s.syncInterest(e); err != nil {
			s.logFDError(fd, err)
		}
	}

	switch out {
	case wakeSignaled:
		return nil
	case wakeTimeout:
		return ErrTimeout
	case wakeClosed:
		return ErrClosed
	default:
		return f.interrupt()
	}
}

// Unregister wakes every fiber waiting on fd with ErrClosed and forgets
// the registration. Call it before closing fd.
func (s *Scheduler) Unregister(fd int) error {
	e := s.fds[fd]
	if e == nil {
		return nil
	}
	n := s.wakeAll(&e.readers, wakeClosed) + s.wakeAll(&e.writers, wakeClosed)

	s.log.Debug().
		Str("sched", s.name).
		Int("fd", fd).
		Int("waiters", n).
		Log("fd unregistered")

	return s.syncInterest(e)
}

// syncInterest brings the poller in line with e's waiters and drops e once
// nobody waits on it.
func (s *Scheduler) syncInterest(e *fdEntry) error {
	var want IOEvents
	if e.readers.len() > 0 {
		want |= EventRead
	}
	if e.writers.len() > 0 {
		want |= EventWrite
	}
	if want == 0 && s.fds[e.fd] == e {
		delete(s.fds, e.fd)
	}
	if want == e.events {
		return nil
	}
	if err := s.poll.modify(e.fd, want); err != nil {
		return err
	}
	e.events = want
	return nil
}

// dispatch delivers one readiness event. Error and hang-up wake every
// waiter; otherwise the head of each ready direction is woken.
func (s *Scheduler) dispatch(fd int, ev IOEvents) {
	e := s.fds[fd]
	if e == nil {
		return
	}
	if ev&(EventError|EventHangup) != 0 {
		s.wakeAll(&e.readers, wakeSignaled)
		s.wakeAll(&e.writers, wakeSignaled)
	} else {
		if ev&EventRead != 0 {
			s.signal(&e.readers)
		}
		if ev&EventWrite != 0 {
			s.signal(&e.writers)
		}
	}
	if err := s.syncInterest(e); err != nil {
		s.logFDError(fd, err)
	}
}

func (s *Scheduler) logFDError(fd int, err error) {
	s.log.Err().
		Str("sched", s.name).
		Int("fd", fd).
		Err(err).
		Log("update fd interest")
}
