// Package protocol implements the CAN 2.0A/B wire format at bit level
package protocol

// Version represents the softcan firmware version
const Version = "0.1.0"

// Level is a single bus level as seen on the RX pin or driven on the TX pin.
type Level uint8

// Bus levels. Dominant always overrides recessive on a wired-AND bus.
const (
	Dominant  Level = 0
	Recessive Level = 1
)

// Frame field widths in bits
const (
	BaseIDBits       = 11
	ExtIDBits        = 18 // low part of a 29-bit identifier
	DLCBits          = 4
	CRCBits          = 15
	EOFBits          = 7
	IntermissionBits = 3

	// StuffRun is the number of identical bits after which a complement is inserted
	StuffRun = 5

	// ErrorFlagBits is the length of an active error flag
	ErrorFlagBits = 6
	// ErrorDelimiterBits is the number of recessive bits closing an error frame
	ErrorDelimiterBits = 8
	// BusIdleBits is the recessive run required before joining the bus
	BusIdleBits = 11

	// MaxDataLen is the classical CAN payload limit
	MaxDataLen = 8

	// MaxFrameBits bounds a stuffed extended frame with 8 data bytes,
	// from SOF through the end of EOF.
	MaxFrameBits = 160
)

// String returns "0" for dominant and "1" for recessive
func (l Level) String() string {
	if l == Dominant {
		return "0"
	}
	return "1"
}

// Invert returns the complementary level
func (l Level) Invert() Level {
	return l ^ 1
}

// LevelOf converts a bit value (0 or 1) to a Level
func LevelOf(bit uint32) Level {
	return Level(bit & 1)
}
