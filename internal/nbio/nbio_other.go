//go:build !unix

package nbio

import (
	"net"
	"time"

	"github.com/webriots/filament"
)

// Conn is unavailable on this platform.
type Conn struct{}

// Listener is unavailable on this platform.
type Listener struct{}

func Listen(*filament.Scheduler, string) (*Listener, error) { return nil, filament.ErrUnsupported }

func Dial(*filament.Fiber, string, time.Duration) (*Conn, error) {
	return nil, filament.ErrUnsupported
}

func (*Listener) Accept(*filament.Fiber) (*Conn, error) { return nil, filament.ErrUnsupported }
func (*Listener) Addr() (*net.TCPAddr, error)           { return nil, filament.ErrUnsupported }
func (*Listener) SetDeadline(time.Time)                 {}
func (*Listener) Close() error                          { return nil }

func (*Conn) Read(*filament.Fiber, []byte) (int, error)  { return 0, filament.ErrUnsupported }
func (*Conn) Write(*filament.Fiber, []byte) (int, error) { return 0, filament.ErrUnsupported }
func (*Conn) SetDeadline(time.Time)                      {}
func (*Conn) SetReadDeadline(time.Time)                  {}
func (*Conn) SetWriteDeadline(time.Time)                 {}
func (*Conn) Close() error                               { return nil }
func (*Conn) Fd() int                                    { return -1 }
