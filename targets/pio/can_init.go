//go:build rp2040

package pio

import (
	"device/rp"
	"errors"
	"runtime/interrupt"

	"softcan/core"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

var (
	// PIO allocation tracking
	// RP2040 has 2 PIO blocks (PIO0, PIO1) with 4 state machines each
	pioAllocations = [2][4]bool{} // [pioNum][smNum]
	nextPIONum     = uint8(0)
	nextSMNum      = uint8(0)

	samplers [core.NumChannels]*PIOSampler

	// The sampler program is loaded once per PIO block and shared by its
	// state machines
	programs [2]loadedProgram
)

type loadedProgram struct {
	loaded bool
	layout bitLayout
	offset uint8
}

// ErrProgramLayout is returned when a PIO block already runs the sampler
// program for another quantum layout
var ErrProgramLayout = errors.New("pio: sampler program loaded for another bit layout")

// ErrNotSetUp is returned by Attach for a channel without a sampler
var ErrNotSetUp = errors.New("pio: channel has no sampler")

// InitBus registers the PIO sampler as the bus driver for every channel
func InitBus() {
	core.SetBusDriverFactory(createSampler)
}

// createSampler returns the sampler for channel, allocating a state machine
// the first time the channel is set up
func createSampler(channel uint8) (core.BusDriver, error) {
	if channel >= core.NumChannels {
		return nil, core.ErrInvalidChannel
	}
	if s := samplers[channel]; s != nil {
		return s, nil
	}
	pioNum, smNum, ok := allocatePIO()
	if !ok {
		return nil, ErrNoStateMachine
	}
	s := NewPIOSampler(pioNum, smNum)
	samplers[channel] = s
	return s, nil
}

// allocatePIO allocates a PIO state machine
// Returns (pioNum, smNum, ok)
func allocatePIO() (uint8, uint8, bool) {
	// Round-robin allocation across PIO blocks and state machines
	for i := 0; i < 8; i++ { // 2 PIO × 4 SM = 8 total
		pioNum := nextPIONum
		smNum := nextSMNum

		// Advance to next slot
		nextSMNum++
		if nextSMNum >= 4 {
			nextSMNum = 0
			nextPIONum = (nextPIONum + 1) % 2
		}

		// Check if this slot is free
		if !pioAllocations[pioNum][smNum] {
			pioAllocations[pioNum][smNum] = true
			return pioNum, smNum, true
		}
	}

	// All PIO resources exhausted
	return 0, 0, false
}

// loadProgram returns the offset of the sampler program on pioNum, adding
// it the first time
func loadProgram(pioNum uint8, l bitLayout) (uint8, error) {
	p := &programs[pioNum]
	if p.loaded {
		if !p.layout.sameProgram(l) {
			return 0, ErrProgramLayout
		}
		return p.offset, nil
	}
	hw := rp2pio.PIO0
	if pioNum == 1 {
		hw = rp2pio.PIO1
	}
	offset, err := hw.AddProgram(buildSamplerProgram(l, samplerPIOOrigin), samplerPIOOrigin)
	if err != nil {
		return 0, err
	}
	*p = loadedProgram{loaded: true, layout: l, offset: offset}
	return offset, nil
}

// Attach services c from the PIO interrupt: every bit the state machine
// pushes raises IRQ 0 of its block, and the handler runs c.HandleInterrupt.
func Attach(c *core.Controller) error {
	s := samplers[c.Channel()]
	if s == nil {
		return ErrNotSetUp
	}
	state := interrupt.Disable()
	s.ctrl = c
	regs := rp.PIO0
	if s.pioNum == 1 {
		regs = rp.PIO1
	}
	// SMn_RXNEMPTY is bit n of IRQ0_INTE
	regs.IRQ0_INTE.SetBits(1 << s.smNum)
	interrupt.Restore(state)

	enableIRQ(s.pioNum)
	return nil
}

func enableIRQ(pioNum uint8) {
	var irq interrupt.Interrupt
	if pioNum == 0 {
		irq = interrupt.New(rp.IRQ_PIO0_IRQ_0, handlePIO0)
	} else {
		irq = interrupt.New(rp.IRQ_PIO1_IRQ_0, handlePIO1)
	}
	// Bits must be handled within phase segment 2
	irq.SetPriority(0)
	irq.Enable()
}

func handlePIO0(interrupt.Interrupt) { serviceBlock(0) }
func handlePIO1(interrupt.Interrupt) { serviceBlock(1) }

// serviceBlock drains every attached sampler on a PIO block. The RX
// not-empty interrupt stays raised until the FIFO is read empty.
func serviceBlock(pioNum uint8) {
	for _, s := range samplers {
		if s != nil && s.pioNum == pioNum && s.ctrl != nil {
			s.ctrl.HandleInterrupt()
		}
	}
}
