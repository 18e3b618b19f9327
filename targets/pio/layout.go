package pio

import (
	"errors"

	"softcan/core"
)

// The state machine runs two cycles per time quantum. Its edge watching
// loops take two instructions per turn, so every quantum is looked at once.
const cyclesPerQuantum = 2

// serviceBudgetNanos is how long the CPU may take from a bit being pushed
// at the sample point to the level for the following bit being queued:
// interrupt entry, HandleBit and one TX FIFO write. Phase segment 2 is the
// whole window, so bitrates whose phase 2 is shorter are refused.
const serviceBudgetNanos = 2000

var (
	// ErrLayout is returned for quantum layouts the sampler program cannot time
	ErrLayout = errors.New("pio: bit layout does not fit the sampler program")
	// ErrTooFast is returned when phase segment 2 is shorter than the service budget
	ErrTooFast = errors.New("pio: bitrate leaves too little time to service a bit")
)

// bitLayout holds the loop counts baked into the sampler program.
//
// With E the cycle the bit edge is seen, the sample is taken at
// E + 8 + 2*phase1 and the next bit starts at E + 14 + 2*phase1 + 2*phase2.
type bitLayout struct {
	quanta      uint8
	samplePoint uint8
	phase1      uint8
	phase2      uint8
}

func newBitLayout(t core.Timing) (bitLayout, error) {
	if err := t.Validate(); err != nil {
		return bitLayout{}, err
	}
	cycles := int(t.Quanta) * cyclesPerQuantum
	sample := int(t.SamplePoint) * cyclesPerQuantum
	k1 := (sample - 8) / 2
	k2 := (cycles - sample - 6) / 2
	if sample < 8 || k2 < 0 || k1 > 31 || k2 > 31 {
		return bitLayout{}, ErrLayout
	}
	if uint64(t.SysClock) < uint64(t.QuantumRate())*cyclesPerQuantum {
		return bitLayout{}, ErrTooFast
	}
	window := uint64(t.Quanta-t.SamplePoint) * 1e9 / (uint64(t.Bitrate) * uint64(t.Quanta))
	if window < serviceBudgetNanos {
		return bitLayout{}, ErrTooFast
	}
	return bitLayout{
		quanta:      t.Quanta,
		samplePoint: t.SamplePoint,
		phase1:      uint8(k1),
		phase2:      uint8(k2),
	}, nil
}

// sameProgram reports whether both layouts assemble to the same program
func (l bitLayout) sameProgram(o bitLayout) bool {
	return l.phase1 == o.phase1 && l.phase2 == o.phase2
}

// clockDivider returns the state machine divider for cyclesPerQuantum
// cycles per quantum, as integer and 1/256 fraction
func clockDivider(t core.Timing) (uint16, uint8) {
	div := uint64(t.SysClock) * 256 / (uint64(t.QuantumRate()) * cyclesPerQuantum)
	return uint16(div >> 8), uint8(div)
}
