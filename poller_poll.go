//go:build unix && !linux

package filament

import (
	"errors"
	"maps"
	"slices"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller rebuilds a poll(2) set on every wait and wakes through a
// non-blocking pipe.
type pollPoller struct {
	wakeR, wakeW int
	registered   map[int]IOEvents
	pfds         []unix.PollFd
}

func newPoller(batch int) (poller, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, err
		}
	}
	return &pollPoller{
		wakeR:      fds[0],
		wakeW:      fds[1],
		registered: make(map[int]IOEvents),
		pfds:       make([]unix.PollFd, 0, batch),
	}, nil
}

func (p *pollPoller) modify(fd int, events IOEvents) error {
	if events == 0 {
		delete(p.registered, fd)
		return nil
	}
	p.registered[fd] = events
	return nil
}

func (p *pollPoller) wait(timeout time.Duration, fn func(fd int, ev IOEvents)) error {
	p.pfds = append(p.pfds[:0], unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN})
	for _, fd := range slices.Sorted(maps.Keys(p.registered)) {
		p.pfds = append(p.pfds, unix.PollFd{Fd: int32(fd), Events: eventsToPoll(p.registered[fd])})
	}

	n, err := unix.Poll(p.pfds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	if n == 0 {
		return nil
	}

	if p.pfds[0].Revents != 0 {
		p.drain()
	}
	for _, pfd := range p.pfds[1:] {
		if pfd.Revents != 0 {
			fn(int(pfd.Fd), pollToEvents(pfd.Revents))
		}
	}
	return nil
}

func (p *pollPoller) wakeup() error {
	_, err := unix.Write(p.wakeW, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *pollPoller) drain() {
	var buf [64]byte
	for {
		if _, err := unix.Read(p.wakeR, buf[:]); err != nil {
			return
		}
	}
}

func (p *pollPoller) close() error {
	return errors.Join(unix.Close(p.wakeR), unix.Close(p.wakeW))
}

func eventsToPoll(events IOEvents) int16 {
	var pollEvents int16
	if events&EventRead != 0 {
		pollEvents |= unix.POLLIN
	}
	if events&EventWrite != 0 {
		pollEvents |= unix.POLLOUT
	}
	return pollEvents
}

func pollToEvents(revents int16) IOEvents {
	var events IOEvents
	if revents&unix.POLLIN != 0 {
		events |= EventRead
	}
	if revents&unix.POLLOUT != 0 {
		events |= EventWrite
	}
	if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		events |= EventError
	}
	if revents&unix.POLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
