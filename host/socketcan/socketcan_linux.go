//go:build linux

package socketcan

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"softcan/protocol"
)

const canRaw = 1

// Conn is a raw CAN socket bound to one interface
type Conn struct {
	fd    int
	iface string
	buf   [FrameSize]byte
	wbuf  [FrameSize]byte
}

// Dial opens a raw CAN socket on iface (e.g. "can0", "vcan0")
func Dial(iface string) (*Conn, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("bad interface %s: %w", iface, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("could not create CAN socket: %w", err)
	}

	addr := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("could not bind CAN socket: %w", err)
	}
	return &Conn{fd: fd, iface: iface}, nil
}

// Interface returns the bound interface name
func (c *Conn) Interface() string {
	return c.iface
}

// SetReadTimeout bounds Receive; it then returns ErrTimeout
func (c *Conn) SetReadTimeout(timeout time.Duration) error {
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	return unix.SetsockoptTimeval(c.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

// Send writes one frame
func (c *Conn) Send(f *protocol.Frame) error {
	if err := MarshalFrame(f, c.wbuf[:]); err != nil {
		return err
	}
	n, err := unix.Write(c.fd, c.wbuf[:])
	if err != nil {
		if isTimeout(err) {
			return ErrTimeout
		}
		return err
	}
	if n != FrameSize {
		return ErrShortFrame
	}
	return nil
}

// Receive reads one frame
func (c *Conn) Receive() (protocol.Frame, error) {
	n, err := unix.Read(c.fd, c.buf[:])
	if err != nil {
		if isTimeout(err) {
			return protocol.Frame{}, ErrTimeout
		}
		return protocol.Frame{}, err
	}
	return UnmarshalFrame(c.buf[:n])
}

// Close closes the socket
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}

// isTimeout matches the errors returned when SO_RCVTIMEO / SO_SNDTIMEO
// elapse or a signal interrupts the call
func isTimeout(err error) bool {
	return err == unix.EWOULDBLOCK || err == unix.EAGAIN || err == unix.EINTR
}
