package core

import "softcan/protocol"

// rxState is the receiver position within the frame
type rxState uint8

const (
	rxSync         rxState = iota // waiting for BusIdleBits recessive bits
	rxIdle                        // bus idle, next dominant bit is SOF
	rxBaseID                      // 11 identifier bits
	rxSRR                         // RTR of a base frame or SRR of an extended one
	rxIDE                         // identifier extension flag
	rxExtID                       // 18 low identifier bits
	rxRTR                         // RTR of an extended frame
	rxReserved                    // r0 (base) or r1 r0 (extended)
	rxDLC                         // data length code
	rxData                        // payload bytes
	rxCRC                         // 15 CRC bits
	rxCRCDelim                    // CRC delimiter, must be recessive
	rxAck                         // ACK slot
	rxAckDelim                    // ACK delimiter, must be recessive
	rxEOF                         // 7 recessive bits
	rxIntermission                // 3 bits between frames
	rxError                       // error or overload frame, waiting for the delimiter
)

var rxStateNames = [...]string{
	"sync", "idle", "id", "srr", "ide", "extid", "rtr", "reserved",
	"dlc", "data", "crc", "crcdelim", "ack", "ackdelim", "eof",
	"intermission", "error",
}

func (s rxState) String() string {
	if int(s) < len(rxStateNames) {
		return rxStateNames[s]
	}
	return "unknown"
}

// rxResult is what a sampled bit did to the receiver
type rxResult uint8

const (
	rxNone     rxResult = iota
	rxStarted           // SOF seen
	rxAckNext           // CRC verified, the next bit is the ACK slot
	rxComplete          // last EOF bit received, frame holds the result
	rxFailed            // protocol error, err holds the kind
)

// receiver decodes every frame on the bus, including our own
type receiver struct {
	state   rxState
	count   uint8
	need    uint8
	shift   uint32
	rtr     protocol.Level
	dataLen uint8
	destuff protocol.Destuffer
	crc     protocol.CRC15
	frame   protocol.Frame
	err     ErrorKind
}

// reset puts the receiver into bus integration
func (r *receiver) reset() {
	r.state = rxSync
	r.count = 0
}

// inFrame reports whether a frame is being decoded, between SOF and the
// end of the ACK delimiter
func (r *receiver) inFrame() bool {
	return r.state >= rxBaseID && r.state <= rxEOF
}

func (r *receiver) idle() bool {
	return r.state == rxIdle
}

// abort enters the error state, waiting for the error delimiter
func (r *receiver) abort() {
	r.state = rxError
	r.count = 0
}

func (r *receiver) fail(kind ErrorKind) rxResult {
	r.err = kind
	r.abort()
	return rxFailed
}

func (r *receiver) begin() rxResult {
	r.frame = protocol.Frame{}
	r.destuff.Reset()
	r.destuff.Next(protocol.Dominant)
	r.crc.Reset()
	r.crc.Feed(protocol.Dominant)
	r.state = rxBaseID
	r.count = 0
	r.shift = 0
	return rxStarted
}

// take shifts one bit into the field accumulator and reports whether n bits
// have been collected. The accumulated value is left in r.shift.
func (r *receiver) take(bit protocol.Level, n uint8) bool {
	if r.count == 0 {
		r.shift = 0
	}
	r.shift = r.shift<<1 | uint32(bit)
	r.count++
	if r.count < n {
		return false
	}
	r.count = 0
	return true
}

// stuffed reports whether the raw bit is inside the stuffed region
func (r *receiver) stuffed() bool {
	if r.state >= rxBaseID && r.state <= rxCRC {
		return true
	}
	// A stuff bit may follow the last CRC bit
	return r.state == rxCRCDelim && r.destuff.StuffPending()
}

// feed consumes one sampled bit
func (r *receiver) feed(bit protocol.Level) rxResult {
	if r.stuffed() {
		data, err := r.destuff.Next(bit)
		if err != nil {
			return r.fail(ErrorStuff)
		}
		if !data {
			return rxNone
		}
		if r.state < rxCRC {
			r.crc.Feed(bit)
		}
	}

	switch r.state {
	case rxSync:
		if bit == protocol.Dominant {
			r.count = 0
			break
		}
		r.count++
		if r.count >= protocol.BusIdleBits {
			r.state = rxIdle
			r.count = 0
		}
	case rxIdle:
		if bit == protocol.Dominant {
			return r.begin()
		}
	case rxBaseID:
		if r.take(bit, protocol.BaseIDBits) {
			r.frame.ID = r.shift
			r.state = rxSRR
		}
	case rxSRR:
		r.rtr = bit
		r.state = rxIDE
	case rxIDE:
		if bit == protocol.Dominant {
			if r.rtr == protocol.Recessive {
				r.frame.ID |= protocol.IDRemote
			}
			r.need = 1
			r.state = rxReserved
		} else {
			r.state = rxExtID
		}
	case rxExtID:
		if r.take(bit, protocol.ExtIDBits) {
			r.frame.ID = r.frame.ID<<protocol.ExtIDBits | r.shift | protocol.IDExtended
			r.state = rxRTR
		}
	case rxRTR:
		if bit == protocol.Recessive {
			r.frame.ID |= protocol.IDRemote
		}
		r.need = 2
		r.state = rxReserved
	case rxReserved:
		// Reserved bits are sent dominant but accepted at either level
		r.count++
		if r.count == r.need {
			r.count = 0
			r.state = rxDLC
		}
	case rxDLC:
		if r.take(bit, protocol.DLCBits) {
			dlc := uint8(r.shift)
			if dlc > protocol.MaxDataLen {
				dlc = protocol.MaxDataLen
			}
			r.frame.DLC = dlc
			r.dataLen = uint8(r.frame.Len())
			r.need = 0
			if r.dataLen == 0 {
				r.state = rxCRC
			} else {
				r.state = rxData
			}
		}
	case rxData:
		if r.take(bit, 8) {
			r.frame.Data[r.need] = byte(r.shift)
			r.need++
			if r.need == r.dataLen {
				r.state = rxCRC
			}
		}
	case rxCRC:
		if r.take(bit, protocol.CRCBits) {
			if uint16(r.shift) != r.crc.Value() {
				return r.fail(ErrorCRC)
			}
			r.state = rxCRCDelim
		}
	case rxCRCDelim:
		if bit != protocol.Recessive {
			return r.fail(ErrorForm)
		}
		r.state = rxAck
		return rxAckNext
	case rxAck:
		// Checked by the transmitter
		r.state = rxAckDelim
	case rxAckDelim:
		if bit != protocol.Recessive {
			return r.fail(ErrorForm)
		}
		r.state = rxEOF
		r.count = 0
	case rxEOF:
		if bit != protocol.Recessive {
			return r.fail(ErrorForm)
		}
		r.count++
		if r.count == protocol.EOFBits {
			r.state = rxIntermission
			r.count = 0
			return rxComplete
		}
	case rxIntermission:
		if bit == protocol.Dominant {
			if r.count == protocol.IntermissionBits-1 {
				return r.begin()
			}
			// Overload condition, absorbed like an error frame
			r.abort()
			break
		}
		r.count++
		if r.count == protocol.IntermissionBits {
			r.state = rxIdle
			r.count = 0
		}
	case rxError:
		if bit == protocol.Dominant {
			r.count = 0
			break
		}
		r.count++
		if r.count == protocol.ErrorDelimiterBits {
			r.state = rxIntermission
			r.count = 0
		}
	}
	return rxNone
}
