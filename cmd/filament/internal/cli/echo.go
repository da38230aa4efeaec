package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
	"github.com/webriots/filament"
	"github.com/webriots/filament/internal/nbio"
)

// EchoOptions holds flags for the echo command.
type EchoOptions struct {
	*RootOptions
	Listen   string
	MaxConns int
	Idle     time.Duration
}

// NewEchoCommand creates a TCP echo server with one fiber per connection.
func NewEchoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EchoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "echo",
		Short:         "Serve a TCP echo service",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEcho(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Listen, "listen", "l", "127.0.0.1:7007", "address to listen on")
	cmd.Flags().IntVar(&opts.MaxConns, "max-conns", 64, "maximum concurrent connections")
	cmd.Flags().DurationVar(&opts.Idle, "idle", time.Minute, "close connections idle this long (0 disables)")

	return cmd
}

func runEcho(cmd *cobra.Command, opts *EchoOptions) error {
	if opts.MaxConns < 1 {
		return fmt.Errorf("%w: max-conns must be positive", filament.ErrUsage)
	}
	s, err := opts.scheduler(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	l, err := nbio.Listen(s, opts.Listen)
	if err != nil {
		return err
	}
	defer l.Close()
	if addr, err := l.Addr(); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", addr)
	}

	serveEcho(s, l, opts, opts.logger(cmd.ErrOrStderr()))

	err = s.Run(commandContext(cmd))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveEcho spawns the accept loop. Each connection gets its own fiber;
// a semaphore caps how many are served at once.
func serveEcho(s *filament.Scheduler, l *nbio.Listener, opts *EchoOptions, log *logiface.Logger[logiface.Event]) *filament.Fiber {
	conns := filament.NewSemaphore(opts.MaxConns)

	return s.Spawn(func(_ context.Context, f *filament.Fiber) error {
		for {
			if err := conns.Acquire(f, true, 0); err != nil {
				return err
			}
			c, err := l.Accept(f)
			if err != nil {
				_ = conns.Release()
				if errors.Is(err, filament.ErrClosed) {
					return nil
				}
				return err
			}
			log.Debug().Int("fd", c.Fd()).Log("accepted")

			f.Spawn(func(_ context.Context, f *filament.Fiber) error {
				defer func() { _ = conns.Release() }()
				defer c.Close()
				n, err := echoConn(f, c, opts.Idle)
				log.Debug().Int("bytes", n).Err(err).Log("connection closed")
				return nil
			})
		}
	})
}

func echoConn(f *filament.Fiber, c *nbio.Conn, idle time.Duration) (int, error) {
	buf := make([]byte, 4096)
	total := 0
	for {
		if idle > 0 {
			c.SetReadDeadline(time.Now().Add(idle))
		}
		n, err := c.Read(f, buf)
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		if _, err := c.Write(f, buf[:n]); err != nil {
			return total, err
		}
		total += n
	}
}
