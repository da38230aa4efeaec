//go:build unix

package nbio

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/webriots/filament"
	"golang.org/x/sys/unix"
)

// Listener accepts TCP connections without blocking the scheduler.
type Listener struct {
	c *Conn
}

// Listen opens a TCP listener on addr ("host:port"). Port 0 picks a free
// port; Addr reports the one chosen.
func Listen(s *filament.Scheduler, addr string) (*Listener, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nbio: listen %s: %w", addr, err)
	}
	sa, family, err := toSockaddr(ta)
	if err != nil {
		return nil, fmt.Errorf("nbio: listen %s: %w", addr, err)
	}

	fd, err := socket(family)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, &OpError{Op: "setsockopt", Fd: fd, Err: err}
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, &OpError{Op: "bind", Fd: fd, Err: err}
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, &OpError{Op: "listen", Fd: fd, Err: err}
	}
	return &Listener{c: &Conn{sched: s, fd: fd}}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept(f *filament.Fiber) (*Conn, error) {
	for {
		if l.c.closed {
			return nil, filament.ErrClosed
		}
		nfd, _, err := unix.Accept(l.c.fd)
		switch {
		case err == nil:
			unix.CloseOnExec(nfd)
			c, err := NewConn(l.c.sched, nfd)
			if err != nil {
				_ = unix.Close(nfd)
				return nil, err
			}
			return c, nil
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
		case errors.Is(err, unix.EAGAIN):
			if err := l.c.wait(f, l.c.sched.WaitReadable, l.c.rdeadline); err != nil {
				return nil, err
			}
		default:
			return nil, &OpError{Op: "accept", Fd: l.c.fd, Err: err}
		}
	}
}

// SetDeadline bounds future Accept calls.
func (l *Listener) SetDeadline(t time.Time) { l.c.rdeadline = t }

// Addr returns the bound address.
func (l *Listener) Addr() (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(l.c.fd)
	if err != nil {
		return nil, &OpError{Op: "getsockname", Fd: l.c.fd, Err: err}
	}
	return fromSockaddr(sa), nil
}

// Close stops the listener and wakes a blocked Accept with
// filament.ErrClosed.
func (l *Listener) Close() error { return l.c.Close() }

// Dial connects to a TCP address. A positive timeout bounds the connect.
func Dial(f *filament.Fiber, addr string, timeout time.Duration) (*Conn, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nbio: dial %s: %w", addr, err)
	}
	sa, family, err := toSockaddr(ta)
	if err != nil {
		return nil, fmt.Errorf("nbio: dial %s: %w", addr, err)
	}
	fd, err := socket(family)
	if err != nil {
		return nil, err
	}
	c := &Conn{sched: f.Scheduler(), fd: fd}

	err = unix.Connect(fd, sa)
	for errors.Is(err, unix.EINTR) {
		err = unix.Connect(fd, sa)
	}
	if errors.Is(err, unix.EINPROGRESS) {
		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if err := c.wait(f, c.sched.WaitWritable, deadline); err != nil {
			_ = c.Close()
			return nil, err
		}
		soerr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		switch {
		case gerr != nil:
			err = gerr
		case soerr != 0:
			err = unix.Errno(soerr)
		default:
			err = nil
		}
	}
	if err != nil {
		_ = c.Close()
		return nil, &OpError{Op: "connect", Fd: fd, Err: err}
	}
	return c, nil
}

func socket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, &OpError{Op: "socket", Fd: -1, Err: err}
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, &OpError{Op: "set nonblock", Fd: fd, Err: err}
	}
	return fd, nil
}

func toSockaddr(a *net.TCPAddr) (unix.Sockaddr, int, error) {
	if ip4 := a.IP.To4(); ip4 != nil || a.IP == nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	if ip6 := a.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: a.Port}
		copy(sa.Addr[:], ip6)
		return sa, unix.AF_INET6, nil
	}
	return nil, 0, fmt.Errorf("unsupported address %v", a)
}

func fromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	}
	return nil
}
