package core

import "softcan/protocol"

type txState uint8

const (
	txEmpty    txState = iota // slot free
	txWaitIdle                // frame queued, waiting for the bus to go idle
	txActive                  // driving the frame
)

type txResult uint8

const (
	txOK txResult = iota
	txLost
	txBitError
	txAckError
	txDone
)

// transmitter owns the single transmit slot. The frame is encoded once when
// queued and replayed from the bitstream on every attempt.
type transmitter struct {
	state    txState
	frame    protocol.Frame
	bits     protocol.Bitstream
	pos      int
	started  bool   // at least one attempt has begun
	failures uint32 // attempts ended by an error, not by arbitration
}

func (t *transmitter) load(f *protocol.Frame, bits *protocol.Bitstream) {
	t.frame = *f
	t.bits = *bits
	t.pos = 0
	t.started = false
	t.failures = 0
	t.state = txWaitIdle
}

func (t *transmitter) pending() bool {
	return t.state != txEmpty
}

func (t *transmitter) active() bool {
	return t.state == txActive
}

// begin starts an attempt at raw bit pos. It reports whether this is a retry.
func (t *transmitter) begin(pos int) bool {
	retry := t.started
	t.started = true
	t.pos = pos
	t.state = txActive
	return retry
}

// backoff returns to waiting for the bus after a lost or failed attempt
func (t *transmitter) backoff() {
	t.state = txWaitIdle
	t.pos = 0
}

func (t *transmitter) release() {
	t.state = txEmpty
	t.pos = 0
}

func (t *transmitter) output() protocol.Level {
	return t.bits.At(t.pos)
}

// inArbitration reports whether the current bit belongs to the arbitration field
func (t *transmitter) inArbitration() bool {
	return t.pos < t.bits.ArbEnd
}

// check compares the bit we drove with the sampled bus level
func (t *transmitter) check(seen protocol.Level) txResult {
	sent := t.bits.At(t.pos)
	switch {
	case t.pos == t.bits.AckSlot:
		if seen != protocol.Dominant {
			return txAckError
		}
	case sent != seen:
		if t.pos < t.bits.ArbEnd && sent == protocol.Recessive {
			return txLost
		}
		return txBitError
	}
	t.pos++
	if t.pos == t.bits.Len() {
		return txDone
	}
	return txOK
}
