// Package socketcan moves frames between the softcan bridge and a Linux
// SocketCAN interface.
package socketcan

import (
	"encoding/binary"
	"errors"

	"softcan/protocol"
)

// FrameSize is sizeof(struct can_frame)
const FrameSize = 16

// can_id flag bits
const (
	canEFFFlag = uint32(1 << 31) // extended frame format
	canRTRFlag = uint32(1 << 30) // remote transmission request
	canERRFlag = uint32(1 << 29) // error message frame
	canEFFMask = uint32(0x1FFFFFFF)
	canSFFMask = uint32(0x7FF)
)

var (
	ErrShortFrame  = errors.New("socketcan: short frame")
	ErrErrorFrame  = errors.New("socketcan: error message frame")
	ErrUnsupported = errors.New("socketcan: not supported on this platform")
	ErrTimeout     = errors.New("socketcan: timeout")
)

// MarshalFrame renders f in the kernel can_frame layout
func MarshalFrame(f *protocol.Frame, buf []byte) error {
	if len(buf) < FrameSize {
		return ErrShortFrame
	}
	if err := f.Validate(); err != nil {
		return err
	}
	id := f.Identifier()
	if f.IsExtended() {
		id |= canEFFFlag
	}
	if f.IsRemote() {
		id |= canRTRFlag
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.DLC
	buf[5], buf[6], buf[7] = 0, 0, 0
	copy(buf[8:16], f.Data[:])
	return nil
}

// UnmarshalFrame decodes a kernel can_frame
func UnmarshalFrame(buf []byte) (protocol.Frame, error) {
	var f protocol.Frame
	if len(buf) < FrameSize {
		return f, ErrShortFrame
	}
	raw := binary.LittleEndian.Uint32(buf[0:4])
	if raw&canERRFlag != 0 {
		return f, ErrErrorFrame
	}
	if raw&canEFFFlag != 0 {
		f.ID = protocol.ExtendedID(raw & canEFFMask)
	} else {
		f.ID = raw & canSFFMask
	}
	if raw&canRTRFlag != 0 {
		f.ID |= protocol.IDRemote
	}
	f.DLC = buf[4]
	if f.DLC > protocol.MaxDataLen {
		f.DLC = protocol.MaxDataLen
	}
	if !f.IsRemote() {
		copy(f.Data[:f.DLC], buf[8:8+int(f.DLC)])
	}
	return f, f.Validate()
}
