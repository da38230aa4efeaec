//go:build !unix

package filament

import "time"

// chanPoller supports deadlines and ingress wakeups only.
type chanPoller struct {
	wake chan struct{}
}

func newPoller(int) (poller, error) {
	return &chanPoller{wake: make(chan struct{}, 1)}, nil
}

func (p *chanPoller) modify(_ int, events IOEvents) error {
	if events == 0 {
		return nil
	}
	return ErrUnsupported
}

func (p *chanPoller) wait(timeout time.Duration, _ func(int, IOEvents)) error {
	switch {
	case timeout < 0:
		<-p.wake
	case timeout == 0:
		select {
		case <-p.wake:
		default:
		}
	default:
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-p.wake:
		case <-t.C:
		}
	}
	return nil
}

func (p *chanPoller) wakeup() error {
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *chanPoller) close() error { return nil }
