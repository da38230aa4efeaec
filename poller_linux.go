//go:build linux

package filament

import (
	"encoding/binary"
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller waits with epoll and wakes through an eventfd.
type epollPoller struct {
	epfd       int
	wakefd     int
	events     []unix.EpollEvent
	registered map[int]IOEvents
}

func newPoller(batch int) (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, err
	}
	return &epollPoller{
		epfd:       epfd,
		wakefd:     wakefd,
		events:     make([]unix.EpollEvent, batch),
		registered: make(map[int]IOEvents),
	}, nil
}

func (p *epollPoller) modify(fd int, events IOEvents) error {
	_, ok := p.registered[fd]
	switch {
	case events == 0:
		if !ok {
			return nil
		}
		delete(p.registered, fd)
		err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
			return nil
		}
		return err
	case !ok:
		ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return err
		}
	default:
		ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
			return err
		}
	}
	p.registered[fd] = events
	return nil
}

func (p *epollPoller) wait(timeout time.Duration, fn func(fd int, ev IOEvents)) error {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := range n {
		fd := int(p.events[i].Fd)
		if fd == p.wakefd {
			p.drain()
			continue
		}
		fn(fd, epollToEvents(p.events[i].Events))
	}
	return nil
}

func (p *epollPoller) wakeup() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	if err == unix.EAGAIN {
		// Counter saturated; a wakeup is already pending.
		return nil
	}
	return err
}

func (p *epollPoller) drain() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func (p *epollPoller) close() error {
	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}

func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
