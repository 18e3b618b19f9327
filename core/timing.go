package core

import "softcan/protocol"

// Default bit timing: 16 quanta per bit sampled at 75%
const (
	DefaultQuanta      = 16
	DefaultSamplePoint = 12
	DefaultSJW         = 4

	MinQuanta = 8
	MaxQuanta = 32
)

// Timing describes how a nominal bit is divided into time quanta.
// Quantum 0 is the sync segment; the bit is sampled at quantum SamplePoint.
type Timing struct {
	SysClock    uint32 // sampler input clock in Hz
	Bitrate     uint32 // bits per second
	Quanta      uint8  // time quanta per bit
	SamplePoint uint8  // quantum index at which the bit value is taken
	SJW         uint8  // maximum phase correction per resynchronization
}

// DefaultTiming returns the standard quantum layout for a bitrate
func DefaultTiming(sysClock, bitrate uint32) Timing {
	return Timing{
		SysClock:    sysClock,
		Bitrate:     bitrate,
		Quanta:      DefaultQuanta,
		SamplePoint: DefaultSamplePoint,
		SJW:         DefaultSJW,
	}
}

// Validate checks that the layout is usable and that the sampler clock can
// be divided down to one quantum.
func (t Timing) Validate() error {
	switch {
	case t.Bitrate == 0 || t.SysClock == 0:
		return ErrInvalidTiming
	case t.Quanta < MinQuanta || t.Quanta > MaxQuanta:
		return ErrInvalidTiming
	case t.SamplePoint < 2 || t.SamplePoint >= t.Quanta:
		return ErrInvalidTiming
	case t.SJW == 0 || t.SJW > t.Quanta-t.SamplePoint || t.SJW >= t.SamplePoint:
		return ErrInvalidTiming
	}
	if uint64(t.SysClock) < uint64(t.Bitrate)*uint64(t.Quanta) {
		return ErrInvalidTiming
	}
	if uint64(t.SysClock)/(uint64(t.Bitrate)*uint64(t.Quanta)) > 0xFFFF {
		return ErrInvalidTiming
	}
	return nil
}

// ClockDivider returns the sampler divider as integer and 1/256 fraction
func (t Timing) ClockDivider() (whole uint16, frac uint8) {
	q := uint64(t.Bitrate) * uint64(t.Quanta)
	if q == 0 {
		return 0, 0
	}
	div := uint64(t.SysClock) * 256 / q
	if div>>8 > 0xFFFF {
		return 0xFFFF, 0
	}
	return uint16(div >> 8), uint8(div)
}

// QuantumRate is the number of quanta per second
func (t Timing) QuantumRate() uint32 {
	return t.Bitrate * uint32(t.Quanta)
}

// Timer step results
const (
	tickSample   = 1 << iota // the quantum just processed is the sample point
	tickBitStart             // the next quantum begins a new bit
)

// bitTimer is the bit timing unit. It tracks the quantum position inside the
// current bit and applies hard and soft synchronization on recessive to
// dominant edges.
type bitTimer struct {
	t      Timing
	phase  uint8
	last   protocol.Level
	synced bool // a soft resync already happened in this bit
}

func (b *bitTimer) reset(t Timing) {
	b.t = t
	b.phase = 0
	b.last = protocol.Recessive
	b.synced = false
}

// step processes one quantum at the given bus level. idle allows a hard sync;
// driving suppresses resync on our own dominant edge.
func (b *bitTimer) step(level protocol.Level, idle, driving bool) uint8 {
	var res uint8
	edge := b.last == protocol.Recessive && level == protocol.Dominant
	b.last = level
	if edge {
		switch {
		case idle:
			b.phase = 0
			b.synced = true
		case b.synced || driving || b.phase == 0:
		case b.phase <= b.t.SamplePoint:
			// Late edge, lengthen phase segment 1
			b.phase -= minU8(b.phase, b.t.SJW)
			b.synced = true
		default:
			// Early edge, shorten phase segment 2
			b.phase += minU8(b.t.Quanta-b.phase, b.t.SJW)
			b.synced = true
			if b.phase == b.t.Quanta {
				// This quantum is the sync segment of the next bit
				b.phase = 0
				res |= tickBitStart
			}
		}
	}
	if b.phase == b.t.SamplePoint {
		res |= tickSample
	}
	b.phase++
	if b.phase >= b.t.Quanta {
		b.phase = 0
		b.synced = false
		res |= tickBitStart
	}
	return res
}

// ticksToSample returns how many quanta remain until the next sample point
func (b *bitTimer) ticksToSample() uint8 {
	if b.phase <= b.t.SamplePoint {
		return b.t.SamplePoint - b.phase
	}
	return b.t.Quanta - b.phase + b.t.SamplePoint
}

func minU8(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}
