//go:build !linux

package socketcan

import (
	"time"

	"softcan/protocol"
)

// Conn is unavailable outside Linux
type Conn struct{}

// Dial always fails with ErrUnsupported
func Dial(iface string) (*Conn, error) {
	return nil, ErrUnsupported
}

func (c *Conn) Interface() string                          { return "" }
func (c *Conn) SetReadTimeout(timeout time.Duration) error { return ErrUnsupported }
func (c *Conn) Send(f *protocol.Frame) error               { return ErrUnsupported }
func (c *Conn) Receive() (protocol.Frame, error)           { return protocol.Frame{}, ErrUnsupported }
func (c *Conn) Close() error                               { return nil }
