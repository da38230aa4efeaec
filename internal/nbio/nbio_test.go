//go:build unix

package nbio

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webriots/filament"
)

func newScheduler(t *testing.T) *filament.Scheduler {
	t.Helper()
	s, err := filament.New(filament.WithName(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSocketpairEcho(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	a, b, err := Socketpair(s)
	r.NoError(err)
	defer a.Close()
	defer b.Close()

	s.Spawn(func(_ context.Context, f *filament.Fiber) error {
		buf := make([]byte, 64)
		for {
			n, err := b.Read(f, buf)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := b.Write(f, buf[:n]); err != nil {
				return err
			}
		}
	})

	var got []byte
	s.Spawn(func(_ context.Context, f *filament.Fiber) error {
		for _, msg := range []string{"hello", " ", "world"} {
			if _, err := a.Write(f, []byte(msg)); err != nil {
				return err
			}
			buf := make([]byte, len(msg))
			if _, err := io.ReadFull(reader{f, a}, buf); err != nil {
				return err
			}
			got = append(got, buf...)
		}
		return a.Close()
	})

	r.NoError(s.Run(context.Background()))
	r.Equal("hello world", string(got))
}

type reader struct {
	f *filament.Fiber
	c *Conn
}

func (r reader) Read(p []byte) (int, error) { return r.c.Read(r.f, p) }

func TestListenDialAccept(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	l, err := Listen(s, "127.0.0.1:0")
	r.NoError(err)
	defer l.Close()
	addr, err := l.Addr()
	r.NoError(err)
	r.NotZero(addr.Port)

	s.Spawn(func(_ context.Context, f *filament.Fiber) error {
		c, err := l.Accept(f)
		if err != nil {
			return err
		}
		defer c.Close()
		_, err = c.Write(f, []byte("welcome"))
		return err
	})

	var got string
	s.Spawn(func(_ context.Context, f *filament.Fiber) error {
		c, err := Dial(f, addr.String(), time.Second)
		if err != nil {
			return err
		}
		defer c.Close()
		b, err := io.ReadAll(reader{f, c})
		got = string(b)
		return err
	})

	r.NoError(s.Run(context.Background()))
	r.Equal("welcome", got)
}

func TestReadDeadline(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	rc, wc, err := Pipe(s)
	r.NoError(err)
	defer rc.Close()
	defer wc.Close()

	s.Spawn(func(_ context.Context, f *filament.Fiber) error {
		rc.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		_, err := rc.Read(f, make([]byte, 1))
		r.ErrorIs(err, ErrDeadline)
		r.ErrorIs(err, filament.ErrTimeout)
		return nil
	})

	r.NoError(s.Run(context.Background()))
}

func TestCloseWakesReader(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	rc, wc, err := Pipe(s)
	r.NoError(err)
	defer wc.Close()

	var readErr error
	s.Spawn(func(_ context.Context, f *filament.Fiber) error {
		_, readErr = rc.Read(f, make([]byte, 1))
		return nil
	})
	s.Spawn(func(_ context.Context, f *filament.Fiber) error {
		f.Yield()
		r.Equal(1, s.Stats().FDs)
		return rc.Close()
	})

	r.NoError(s.Run(context.Background()))
	r.ErrorIs(readErr, filament.ErrClosed)
	r.Equal(-1, rc.Fd())
	r.NoError(rc.Close())
}

func TestDialRefused(t *testing.T) {
	r := require.New(t)
	s := newScheduler(t)

	l, err := Listen(s, "127.0.0.1:0")
	r.NoError(err)
	addr, err := l.Addr()
	r.NoError(err)
	r.NoError(l.Close())

	s.Spawn(func(_ context.Context, f *filament.Fiber) error {
		_, err := Dial(f, addr.String(), time.Second)
		r.Error(err)
		return nil
	})

	r.NoError(s.Run(context.Background()))
}
