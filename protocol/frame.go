package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Identifier flag bits stored above the 29-bit identifier field
const (
	IDExtended uint32 = 1 << 31
	IDRemote   uint32 = 1 << 30

	StandardIDMask uint32 = 0x7FF
	ExtendedIDMask uint32 = 0x1FFFFFFF
)

var (
	ErrInvalidID  = errors.New("protocol: invalid identifier")
	ErrInvalidDLC = errors.New("protocol: invalid data length code")
)

// Frame is one classical CAN frame.
// The payload is an owned fixed array; DLC bounds how much of it is valid.
type Frame struct {
	ID   uint32 // identifier plus IDExtended / IDRemote flags
	DLC  uint8  // 0..8
	Data [MaxDataLen]byte
}

// ExtendedID marks an identifier as 29-bit format
func ExtendedID(id uint32) uint32 {
	return id | IDExtended
}

// RemoteID marks an identifier as a remote transmission request
func RemoteID(id uint32) uint32 {
	return id | IDRemote
}

// NewFrame builds a data frame. Identifiers above 0x7FF are made extended.
func NewFrame(id uint32, data []byte) (Frame, error) {
	var f Frame
	if len(data) > MaxDataLen {
		return f, ErrInvalidDLC
	}
	if id&^IDExtended&^IDRemote > StandardIDMask {
		id |= IDExtended
	}
	f.ID = id
	f.DLC = uint8(len(data))
	copy(f.Data[:], data)
	return f, f.Validate()
}

// IsExtended reports whether the frame uses a 29-bit identifier
func (f *Frame) IsExtended() bool {
	return f.ID&IDExtended != 0
}

// IsRemote reports whether the frame is a remote transmission request
func (f *Frame) IsRemote() bool {
	return f.ID&IDRemote != 0
}

// Identifier returns the bare 11 or 29 bit identifier
func (f *Frame) Identifier() uint32 {
	if f.IsExtended() {
		return f.ID & ExtendedIDMask
	}
	return f.ID & StandardIDMask
}

// Len returns the number of payload bytes carried on the wire
func (f *Frame) Len() int {
	if f.IsRemote() {
		return 0
	}
	if f.DLC > MaxDataLen {
		return MaxDataLen
	}
	return int(f.DLC)
}

// Payload returns the valid part of the data array
func (f *Frame) Payload() []byte {
	return f.Data[:f.Len()]
}

// Validate checks identifier width and DLC
func (f *Frame) Validate() error {
	if f.DLC > MaxDataLen {
		return ErrInvalidDLC
	}
	raw := f.ID &^ (IDExtended | IDRemote)
	if f.IsExtended() {
		if raw > ExtendedIDMask {
			return ErrInvalidID
		}
	} else if raw > StandardIDMask {
		return ErrInvalidID
	}
	return nil
}

// Equal compares identifier, DLC and the valid payload bytes
func (f *Frame) Equal(o *Frame) bool {
	if f.ID != o.ID || f.DLC != o.DLC {
		return false
	}
	n := f.Len()
	for i := 0; i < n; i++ {
		if f.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// String formats the frame as "123#AABB" (extended ids use 8 digits, RTR adds "R")
func (f Frame) String() string {
	var b strings.Builder
	if f.IsExtended() {
		fmt.Fprintf(&b, "%08X#", f.Identifier())
	} else {
		fmt.Fprintf(&b, "%03X#", f.Identifier())
	}
	if f.IsRemote() {
		fmt.Fprintf(&b, "R%d", f.DLC)
		return b.String()
	}
	for _, d := range f.Payload() {
		fmt.Fprintf(&b, "%02X", d)
	}
	return b.String()
}

// ErrFrameSyntax is returned by ParseFrame for malformed text
var ErrFrameSyntax = errors.New("protocol: malformed frame text")

// ParseFrame reads the notation produced by String: "123#AABB" for data,
// "7E0#R" or "7E0#R8" for remote frames. Identifiers written with more than
// three digits are extended. Dots between data bytes are ignored.
func ParseFrame(s string) (Frame, error) {
	var f Frame
	idText, body, ok := strings.Cut(s, "#")
	if !ok || len(idText) == 0 || len(idText) > 8 {
		return f, ErrFrameSyntax
	}
	id, ok := hexField([]byte(idText))
	if !ok {
		return f, ErrFrameSyntax
	}
	if len(idText) > 3 {
		id |= IDExtended
	}

	if strings.HasPrefix(body, "R") {
		f.ID = id | IDRemote
		if len(body) > 2 {
			return f, ErrFrameSyntax
		}
		if len(body) == 2 {
			dlc, ok := unhex(body[1])
			if !ok {
				return f, ErrFrameSyntax
			}
			f.DLC = dlc
		}
		return f, f.Validate()
	}

	body = strings.ReplaceAll(body, ".", "")
	if len(body)%2 != 0 {
		return f, ErrFrameSyntax
	}
	if len(body)/2 > MaxDataLen {
		return f, ErrInvalidDLC
	}
	f.ID = id
	f.DLC = uint8(len(body) / 2)
	for i := 0; i < int(f.DLC); i++ {
		v, ok := hexField([]byte(body[i*2 : i*2+2]))
		if !ok {
			return f, ErrFrameSyntax
		}
		f.Data[i] = byte(v)
	}
	return f, f.Validate()
}
