//go:build rp2040

package pio

// PIO bit timing backend using tinygo-org/pio package.
// The state machine finds bit edges, samples RX once per bit and drives TX
// at each bit boundary, so the CPU handles one bit per RX FIFO word.

import (
	"errors"
	"machine"

	"softcan/core"
	"softcan/protocol"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// Program addresses, relative to the load offset
const (
	addrBit    = 3
	addrSync   = 5
	addrP1Dom  = 7
	addrAfter  = 9
	addrP2Dom  = 11
	addrP1Rec  = 13
	addrP1High = 15
	addrP2Rec  = 18
	addrP2High = 20
)

// buildSamplerProgram assembles the bit timing program for a layout.
// The state machine runs cyclesPerQuantum cycles per quantum, RX is both
// the IN base and the JMP pin and TX is the single OUT pin.
//
// Program flow:
//  1. Wait for a falling edge on an idle bus, it starts a bit
//  2. At each bit start take the next TX word, or X (recessive) when the
//     FIFO is empty, and drive it
//  3. Up to the sample point: if the bus is recessive, a falling edge
//     restarts the bit timing without taking a new TX word
//  4. Sample RX, autopush one bit per word
//  5. Up to the bit end: if the bus is recessive, a falling edge starts
//     the next bit early
func buildSamplerProgram(l bitLayout, offset uint8) []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	at := func(addr uint8) uint8 { return offset + addr }
	return []uint16{
		asm.Set(rp2pio.SetDestX, 1).Encode(),                          // 0: set x, 1
		asm.WaitPin(true, 0).Encode(),                                 // 1: wait 1 pin 0
		asm.WaitPin(false, 0).Encode(),                                // 2: wait 0 pin 0
		asm.Pull(false, false).Encode(),                               // 3: bit: pull noblock
		asm.Out(rp2pio.OutDestPins, 1).Encode(),                       // 4: out pins, 1
		asm.Set(rp2pio.SetDestY, l.phase1).Delay(1).Encode(),          // 5: sync: set y, phase1 [1]
		asm.Jmp(at(addrP1Rec), rp2pio.JmpPinInput).Encode(),           // 6: jmp pin, p1rec
		asm.Jmp(at(addrP1Dom), rp2pio.JmpYNZeroDec).Delay(1).Encode(), // 7: p1dom: jmp y--, p1dom [1]
		asm.In(rp2pio.InSrcPins, 1).Delay(1).Encode(),                 // 8: in pins, 1 [1]
		asm.Set(rp2pio.SetDestY, l.phase2).Encode(),                   // 9: after: set y, phase2
		asm.Jmp(at(addrP2Rec), rp2pio.JmpPinInput).Encode(),           // 10: jmp pin, p2rec
		asm.Jmp(at(addrP2Dom), rp2pio.JmpYNZeroDec).Delay(1).Encode(), // 11: p2dom: jmp y--, p2dom [1]
		asm.Jmp(at(addrBit), rp2pio.JmpAlways).Encode(),               // 12: jmp bit
		asm.Jmp(at(addrP1High), rp2pio.JmpPinInput).Encode(),          // 13: p1rec: jmp pin, p1high
		asm.Jmp(at(addrSync), rp2pio.JmpAlways).Encode(),              // 14: jmp sync
		asm.Jmp(at(addrP1Rec), rp2pio.JmpYNZeroDec).Encode(),          // 15: p1high: jmp y--, p1rec
		asm.In(rp2pio.InSrcPins, 1).Encode(),                          // 16: in pins, 1
		asm.Jmp(at(addrAfter), rp2pio.JmpAlways).Encode(),             // 17: jmp after
		asm.Jmp(at(addrP2High), rp2pio.JmpPinInput).Encode(),          // 18: p2rec: jmp pin, p2high
		asm.Jmp(at(addrBit), rp2pio.JmpAlways).Encode(),               // 19: jmp bit
		asm.Jmp(at(addrP2Rec), rp2pio.JmpYNZeroDec).Encode(),          // 20: p2high: jmp y--, p2rec
		asm.Jmp(at(addrBit), rp2pio.JmpAlways).Encode(),               // 21: jmp bit
	}
}

const samplerPIOOrigin = 0 // jump targets are computed for this offset

// samplerProgramLen is the length of the program built above
const samplerProgramLen = 22

// ErrNoStateMachine is returned when all 8 state machines are claimed
var ErrNoStateMachine = errors.New("pio: no free state machine")

// PIOSampler implements core.BitDriver with one PIO state machine doing the
// bit timing for both RX and TX.
type PIOSampler struct {
	pio    *rp2pio.PIO
	sm     rp2pio.StateMachine
	rxPin  machine.Pin
	txPin  machine.Pin
	timing core.Timing
	offset uint8
	pioNum uint8
	smNum  uint8

	claimed bool
	ctrl    *core.Controller // serviced from the PIO interrupt once attached
	late    bool             // more bits were queued behind the last one read
	running bool
}

// NewPIOSampler creates a new PIO-based sampler
// pioNum: 0 for PIO0, 1 for PIO1
// smNum: 0-3 for state machine number
func NewPIOSampler(pioNum, smNum uint8) *PIOSampler {
	var pioHW *rp2pio.PIO
	if pioNum == 0 {
		pioHW = rp2pio.PIO0
	} else {
		pioHW = rp2pio.PIO1
	}

	return &PIOSampler{
		pio:    pioHW,
		sm:     pioHW.StateMachine(smNum),
		pioNum: pioNum,
		smNum:  smNum,
	}
}

// Configure claims the state machine and loads the program the first time,
// then sets the pins and the clock for t. Reconfiguring only re-runs the
// state machine setup.
func (s *PIOSampler) Configure(channel uint8, t core.Timing, rx, tx core.Pin) error {
	layout, err := newBitLayout(t)
	if err != nil {
		return err
	}
	if !s.claimed {
		if !s.sm.TryClaim() {
			return ErrNoStateMachine
		}
		s.claimed = true
	}
	offset, err := loadProgram(s.pioNum, layout)
	if err != nil {
		return err
	}
	s.offset = offset
	s.timing = t
	s.rxPin = machine.Pin(rx)
	s.txPin = machine.Pin(tx)

	s.rxPin.Configure(machine.PinConfig{Mode: s.pio.PinMode()})
	s.txPin.Configure(machine.PinConfig{Mode: s.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetInPins(s.rxPin, 1)
	cfg.SetJmpPin(s.rxPin)
	cfg.SetOutPins(s.txPin, 1)

	// One bit per RX word; TX words are taken from bit 0
	cfg.SetInShift(false, true, 1)
	cfg.SetOutShift(true, false, 32)

	cfg.SetWrap(offset+samplerProgramLen-1, offset)

	whole, frac := clockDivider(t)
	cfg.SetClkDivIntFrac(whole, frac)

	s.sm.Init(offset, cfg)

	// TX starts recessive, RX is an input
	s.sm.SetPinsConsecutive(s.txPin, 1, true)
	s.sm.SetPindirsConsecutive(s.txPin, 1, true)
	s.sm.SetPindirsConsecutive(s.rxPin, 1, false)
	return nil
}

// Start enables the state machine. It waits for the bus to go recessive
// and then for the next falling edge before timing any bit.
func (s *PIOSampler) Start() error {
	s.late = false
	s.sm.ClearFIFOs()
	s.sm.Restart()
	s.sm.SetEnabled(true)
	s.running = true
	return nil
}

// Stop halts the state machine and releases TX
func (s *PIOSampler) Stop() error {
	s.running = false
	s.sm.SetEnabled(false)
	s.sm.ClearFIFOs()
	s.sm.SetPinsConsecutive(s.txPin, 1, true)
	return nil
}

// ReadBit returns the next bit sampled by the state machine
func (s *PIOSampler) ReadBit() (protocol.Level, bool) {
	if s.sm.IsRxFIFOEmpty() {
		return protocol.Recessive, false
	}
	level := protocol.LevelOf(s.sm.RxGet())
	// A backlog means the TX window of this bit has already passed
	s.late = !s.sm.IsRxFIFOEmpty()
	return level, true
}

// ReadSample never returns samples: bit timing runs in the state machine
func (s *PIOSampler) ReadSample() (protocol.Level, uint32, bool) {
	return protocol.Recessive, 0, false
}

// SetTx queues the level of the next bit. Recessive is what the state
// machine drives when the TX FIFO is empty, so only dominant bits are
// written. Nothing is written when the CPU has fallen behind, the word
// would land on a later bit.
func (s *PIOSampler) SetTx(level protocol.Level) {
	if !s.running || s.late || level == protocol.Recessive {
		return
	}
	if s.sm.IsTxFIFOFull() {
		return
	}
	s.sm.TxPut(0)
}

// Name returns the backend name
func (s *PIOSampler) Name() string {
	return "PIO"
}
