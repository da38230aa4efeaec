//go:build unix

// Package nbio adapts non-blocking file descriptors to filament fibers. A
// Conn blocks the calling fiber, never the scheduler goroutine, by parking
// on the scheduler's readiness waiter whenever the kernel reports EAGAIN.
package nbio

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/webriots/filament"
	"golang.org/x/sys/unix"
)

// ErrDeadline is returned when a read or write deadline passes. It matches
// filament.ErrTimeout.
var ErrDeadline = fmt.Errorf("nbio: i/o deadline exceeded: %w", filament.ErrTimeout)

// Conn is a non-blocking descriptor owned by one scheduler.
type Conn struct {
	sched     *filament.Scheduler
	fd        int
	rdeadline time.Time
	wdeadline time.Time
	closed    bool
}

// NewConn switches fd to non-blocking mode and wraps it. The Conn takes
// ownership of fd.
func NewConn(s *filament.Scheduler, fd int) (*Conn, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("nbio: set nonblock fd %d: %w", fd, err)
	}
	return &Conn{sched: s, fd: fd}, nil
}

// Fd returns the underlying descriptor, or -1 once closed.
func (c *Conn) Fd() int {
	if c.closed {
		return -1
	}
	return c.fd
}

// Read reads into p, suspending f until data arrives. A zero-length read
// from a stream reports io.EOF.
func (c *Conn) Read(f *filament.Fiber, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if c.closed {
			return 0, filament.ErrClosed
		}
		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil && n == 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if err := c.wait(f, c.sched.WaitReadable, c.rdeadline); err != nil {
				return 0, err
			}
		default:
			return 0, &OpError{Op: "read", Fd: c.fd, Err: err}
		}
	}
}

// Write writes all of p unless an error or deadline intervenes, in which
// case the count of bytes already written is returned with the error.
func (c *Conn) Write(f *filament.Fiber, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		if c.closed {
			return written, filament.ErrClosed
		}
		n, err := unix.Write(c.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil:
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			if err := c.wait(f, c.sched.WaitWritable, c.wdeadline); err != nil {
				return written, err
			}
		default:
			return written, &OpError{Op: "write", Fd: c.fd, Err: err}
		}
	}
	return written, nil
}

func (c *Conn) wait(f *filament.Fiber, fn func(*filament.Fiber, int, time.Time) error, deadline time.Time) error {
	err := fn(f, c.fd, deadline)
	if errors.Is(err, filament.ErrTimeout) {
		return ErrDeadline
	}
	return err
}

// SetDeadline sets both the read and write deadlines. The zero time
// clears them.
func (c *Conn) SetDeadline(t time.Time) {
	c.rdeadline = t
	c.wdeadline = t
}

// SetReadDeadline sets the deadline for future Read calls.
func (c *Conn) SetReadDeadline(t time.Time) { c.rdeadline = t }

// SetWriteDeadline sets the deadline for future Write calls.
func (c *Conn) SetWriteDeadline(t time.Time) { c.wdeadline = t }

// Close wakes any fiber blocked on the Conn with filament.ErrClosed and
// closes the descriptor. Closing twice is a no-op.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	uerr := c.sched.Unregister(c.fd)
	if err := unix.Close(c.fd); err != nil {
		return &OpError{Op: "close", Fd: c.fd, Err: err}
	}
	return uerr
}

// OpError records the failed syscall and descriptor.
type OpError struct {
	Op  string
	Fd  int
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("nbio: %s fd %d: %v", e.Op, e.Fd, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Pipe returns the read and write ends of a new non-blocking pipe.
func Pipe(s *filament.Scheduler) (r, w *Conn, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, nil, &OpError{Op: "pipe", Fd: -1, Err: err}
	}
	return pair(s, fds)
}

// Socketpair returns two connected non-blocking stream sockets.
func Socketpair(s *filament.Scheduler) (a, b *Conn, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, &OpError{Op: "socketpair", Fd: -1, Err: err}
	}
	return pair(s, fds)
}

func pair(s *filament.Scheduler, fds [2]int) (*Conn, *Conn, error) {
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	a, err := NewConn(s, fds[0])
	if err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := NewConn(s, fds[1])
	if err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	return a, b, nil
}
