package core

import "softcan/protocol"

// Bridge serves the SLCAN line protocol for one Controller. The platform
// feeds received serial bytes to Input, calls Poll from its main loop and
// sends whatever Drain returns. Bridge is also the controller's
// notification sink, so received frames and errors are reported as lines.
type Bridge struct {
	ctrl     *Controller
	sysClock uint32
	bitrate  uint32
	rxPin    Pin
	txPin    Pin

	clock      func() uint32 // milliseconds, for timestamps
	timestamps bool

	lines *protocol.LineBuffer
	line  [bridgeLineLen]byte

	out     [bridgeOutLen]byte
	outLen  int
	scratch [bridgeLineLen]byte // command replies
	event   [bridgeLineLen]byte // notification lines

	busError bool
	overrun  bool
}

const (
	bridgeLineLen  = 32  // longest SLCAN line is "T" + 8 + 1 + 16 + timestamp
	bridgeOutLen   = 256 // pending reply bytes
	bridgeInputLen = 128

	// DefaultBridgeBitrate is used until an Sn command selects another rate
	DefaultBridgeBitrate = 500000
)

// Status flags reported by the F command
const (
	StatusTxBusy   = 0x01
	StatusRunning  = 0x02
	StatusBusError = 0x04
	StatusOverrun  = 0x08
)

// NewBridge creates a bridge for c and installs it as the notification sink
func NewBridge(c *Controller, sysClock uint32, rx, tx Pin) *Bridge {
	b := &Bridge{
		ctrl:     c,
		sysClock: sysClock,
		bitrate:  DefaultBridgeBitrate,
		rxPin:    rx,
		txPin:    tx,
		lines:    protocol.NewLineBuffer(bridgeInputLen),
	}
	c.SetNotificationSink(b)
	return b
}

// SetClock installs the millisecond clock used for frame timestamps
func (b *Bridge) SetClock(fn func() uint32) {
	b.clock = fn
}

// Bitrate returns the rate used by the next O command
func (b *Bridge) Bitrate() uint32 {
	return b.bitrate
}

// Input queues received serial bytes and returns how many were accepted
func (b *Bridge) Input(data []byte) int {
	state := disableInterrupts()
	n := b.lines.Write(data)
	restoreInterrupts(state)
	return n
}

// Poll executes every complete command line
func (b *Bridge) Poll() {
	for {
		state := disableInterrupts()
		line, ok := b.lines.NextLine(b.line[:])
		restoreInterrupts(state)
		if !ok {
			return
		}
		b.handle(line)
	}
}

// Drain appends pending output to dst and clears it
func (b *Bridge) Drain(dst []byte) []byte {
	state := disableInterrupts()
	dst = append(dst, b.out[:b.outLen]...)
	b.outLen = 0
	restoreInterrupts(state)
	return dst
}

// Reset drops buffered input and output, as after a USB reconnect
func (b *Bridge) Reset() {
	state := disableInterrupts()
	b.lines.Reset()
	b.outLen = 0
	b.busError = false
	b.overrun = false
	restoreInterrupts(state)
}

// Notify reports controller events as SLCAN lines
func (b *Bridge) Notify(n *Notification) {
	switch n.Kind {
	case NotifyRX:
		line := protocol.AppendSlcanFrame(b.event[:0], n.Frame)
		if b.timestamps && b.clock != nil {
			line = appendHex(line[:len(line)-1], b.clock()%60000, 4)
			line = append(line, protocol.SlcanEnd)
		}
		b.reply(line...)
	case NotifyError:
		state := disableInterrupts()
		b.busError = true
		restoreInterrupts(state)
		b.reply(protocol.AppendSlcanError(b.event[:0], uint8(n.Error))...)
	}
}

// handle executes one command line
func (b *Bridge) handle(line []byte) {
	if len(line) > 0 && line[0] == 'Z' {
		b.handleTimestamps(line)
		return
	}
	cmd, err := protocol.ParseSlcan(line)
	if err != nil {
		b.reply(protocol.SlcanErr)
		return
	}
	switch cmd.Kind {
	case protocol.SlcanOpen:
		if b.ctrl.Running() {
			b.reply(protocol.SlcanErr)
			return
		}
		if err := b.ctrl.Start(b.sysClock, b.bitrate, b.rxPin, b.txPin); err != nil {
			b.reply(protocol.SlcanErr)
			return
		}
		b.reply(protocol.SlcanOK)
	case protocol.SlcanClose:
		if err := b.ctrl.Stop(); err != nil {
			b.reply(protocol.SlcanErr)
			return
		}
		b.reply(protocol.SlcanOK)
	case protocol.SlcanBitrate:
		if b.ctrl.Running() {
			b.reply(protocol.SlcanErr)
			return
		}
		b.bitrate = cmd.Bitrate
		b.reply(protocol.SlcanOK)
	case protocol.SlcanFrame:
		if !b.ctrl.Running() || b.ctrl.Transmit(&cmd.Frame) != nil {
			b.reply(protocol.SlcanErr)
			return
		}
		b.reply(protocol.SlcanOK)
	case protocol.SlcanVersion:
		out := append(b.scratch[:0], 'V')
		out = append(out, protocol.Version...)
		b.reply(append(out, protocol.SlcanEnd)...)
	case protocol.SlcanStatus:
		out := appendHex(append(b.scratch[:0], 'F'), uint32(b.status()), 2)
		b.reply(append(out, protocol.SlcanEnd)...)
	case protocol.SlcanStats:
		b.reply(b.appendStats(b.scratch[:0])...)
	default:
		// E lines only travel towards the host
		b.reply(protocol.SlcanErr)
	}
}

// handleTimestamps processes Z0 / Z1
func (b *Bridge) handleTimestamps(line []byte) {
	if len(line) != 2 || (line[1] != '0' && line[1] != '1') {
		b.reply(protocol.SlcanErr)
		return
	}
	b.timestamps = line[1] == '1'
	b.reply(protocol.SlcanOK)
}

// status builds the F flags and clears the latched ones
func (b *Bridge) status() uint8 {
	var flags uint8
	if b.ctrl.CheckTransmit() == 0 {
		flags |= StatusTxBusy
	}
	if b.ctrl.Running() {
		flags |= StatusRunning
	}
	state := disableInterrupts()
	if b.busError {
		flags |= StatusBusError
	}
	if b.overrun {
		flags |= StatusOverrun
	}
	b.busError = false
	b.overrun = false
	restoreInterrupts(state)
	return flags
}

// appendStats renders "Qrx,tx,perr,arb,retry\r"
func (b *Bridge) appendStats(dst []byte) []byte {
	s := b.ctrl.Statistics()
	dst = append(dst, 'Q')
	dst = protocol.AppendUint(dst, s.RxFrames)
	dst = append(dst, ',')
	dst = protocol.AppendUint(dst, s.TxFrames)
	dst = append(dst, ',')
	dst = protocol.AppendUint(dst, s.ParseErrors)
	dst = append(dst, ',')
	dst = protocol.AppendUint(dst, s.ArbitrationLosses)
	dst = append(dst, ',')
	dst = protocol.AppendUint(dst, s.TxRetries)
	return append(dst, protocol.SlcanEnd)
}

// reply queues output. A line that does not fit is dropped whole.
func (b *Bridge) reply(data ...byte) {
	state := disableInterrupts()
	if b.outLen+len(data) > len(b.out) {
		b.overrun = true
	} else {
		b.outLen += copy(b.out[b.outLen:], data)
	}
	restoreInterrupts(state)
}
