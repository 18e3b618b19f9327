package core

import "softcan/protocol"

// Pin is a GPIO number on the target
type Pin uint8

// BusDriver defines the hardware abstraction between the controller and the
// CAN transceiver pins. Implementations can use PIO, a timer interrupt, or a
// simulated bus.
type BusDriver interface {
	// Configure prepares the sampler for the given timing.
	// rx: GPIO connected to the transceiver RX output
	// tx: GPIO connected to the transceiver TX input
	Configure(channel uint8, t Timing, rx, tx Pin) error

	// Start begins sampling RX once per time quantum
	Start() error

	// Stop halts sampling and releases the TX pin to recessive
	Stop() error

	// ReadSample returns the next queued RX sample and the quantum tick it
	// was taken at. ok is false when no sample is pending.
	// Called from the sampling interrupt.
	ReadSample() (level protocol.Level, tick uint32, ok bool)

	// SetTx drives the TX pin. Takes effect from the next quantum.
	// Must be fast (called from the sampling interrupt).
	SetTx(level protocol.Level)
}

// BitDriver is a BusDriver that keeps bit timing in hardware and samples
// once per bit. The controller then skips its quantum timer: each ReadBit
// result is one sampled bit, and SetTx is called once per bit with the level
// for the bit that follows.
type BitDriver interface {
	BusDriver

	// ReadBit returns the next sampled bit. ok is false when none is pending.
	ReadBit() (level protocol.Level, ok bool)
}

// BusDriverFactory creates the driver for a channel
type BusDriverFactory func(channel uint8) (BusDriver, error)

var busDriverFactory BusDriverFactory

// SetBusDriverFactory sets the platform-specific driver constructor used by Setup
func SetBusDriverFactory(factory BusDriverFactory) {
	busDriverFactory = factory
}

// nullDriver is used when no platform driver is registered. It never produces
// samples, so the controller only advances through HandleSample.
type nullDriver struct{}

func (nullDriver) Configure(uint8, Timing, Pin, Pin) error { return nil }
func (nullDriver) Start() error                            { return nil }
func (nullDriver) Stop() error                             { return nil }
func (nullDriver) SetTx(protocol.Level)                    {}

func (nullDriver) ReadSample() (protocol.Level, uint32, bool) {
	return protocol.Recessive, 0, false
}
