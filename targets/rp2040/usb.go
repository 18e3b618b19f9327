//go:build rp2040

package main

import (
	"machine"
	"time"

	"softcan/core"
)

// maxWriteFailures is how many stalled writes mark the host as gone
const maxWriteFailures = 10

// usbLink moves bytes between the USB CDC port and the bridge. When the
// host stops reading, pending output is dropped and the bridge is reset on
// the next byte from a new session.
type usbLink struct {
	port   machine.Serialer
	bridge *core.Bridge
	in     [64]byte
	out    []byte

	failures     uint32
	disconnected bool
}

// newUSBLink configures USB CDC; the baud rate is ignored
func newUSBLink(b *core.Bridge) *usbLink {
	machine.Serial.Configure(machine.UARTConfig{})
	return &usbLink{
		port:   machine.Serial,
		bridge: b,
		out:    make([]byte, 0, 256),
	}
}

// read hands everything the host sent so far to the bridge
func (l *usbLink) read() {
	n := 0
	for n < len(l.in) && l.port.Buffered() > 0 {
		c, err := l.port.ReadByte()
		if err != nil {
			break
		}
		l.in[n] = c
		n++
	}
	if n == 0 {
		return
	}
	if l.disconnected {
		// A new host session starts from a closed channel
		l.disconnected = false
		l.failures = 0
		l.bridge.Reset()
	}
	if written := l.bridge.Input(l.in[:n]); written < n {
		core.DebugPrintln("usb input overflow")
	}
}

// write sends the bridge output, giving up on a host that stopped reading
func (l *usbLink) write() {
	l.out = l.bridge.Drain(l.out[:0])
	for sent := 0; sent < len(l.out); {
		n, err := l.port.Write(l.out[sent:])
		if err != nil || n == 0 {
			l.failures++
			if l.failures > maxWriteFailures {
				l.disconnected = true
				l.failures = 0
				l.bridge.Reset()
			}
			return
		}
		sent += n
	}
	l.failures = 0
}

// debug writes a line straight to the port, bypassing the bridge buffer
func (l *usbLink) debug(s string) {
	l.port.Write([]byte(s + "\r\n"))
}

// readLoop polls the port from its own goroutine
func (l *usbLink) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			time.Sleep(100 * time.Millisecond)
			go l.readLoop()
		}
	}()
	for {
		l.read()
		time.Sleep(100 * time.Microsecond)
	}
}
