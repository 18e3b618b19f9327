package core

import (
	"errors"

	"softcan/protocol"
)

// ErrorKind classifies a protocol error seen on the bus
type ErrorKind uint8

const (
	ErrorNone ErrorKind = iota
	ErrorStuff
	ErrorForm
	ErrorCRC
	ErrorAck
	ErrorBit
	ErrorRetriesExhausted
)

var (
	ErrSlotBusy       = errors.New("can: transmit slot busy")
	ErrInvalidChannel = errors.New("can: invalid channel")
	ErrInvalidTiming  = errors.New("can: invalid bit timing")
	ErrInvalidFrame   = errors.New("can: invalid frame")
	ErrNoDriver       = errors.New("can: no bus driver registered")

	ErrStuff            = protocol.ErrStuff
	ErrForm             = errors.New("can: form error")
	ErrCRC              = errors.New("can: crc mismatch")
	ErrAck              = errors.New("can: no acknowledgement")
	ErrBit              = errors.New("can: bit error")
	ErrRetriesExhausted = errors.New("can: retry limit reached")
)

// Err returns the sentinel error for the kind, nil for ErrorNone
func (k ErrorKind) Err() error {
	switch k {
	case ErrorStuff:
		return ErrStuff
	case ErrorForm:
		return ErrForm
	case ErrorCRC:
		return ErrCRC
	case ErrorAck:
		return ErrAck
	case ErrorBit:
		return ErrBit
	case ErrorRetriesExhausted:
		return ErrRetriesExhausted
	}
	return nil
}

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorStuff:
		return "stuff"
	case ErrorForm:
		return "form"
	case ErrorCRC:
		return "crc"
	case ErrorAck:
		return "ack"
	case ErrorBit:
		return "bit"
	case ErrorRetriesExhausted:
		return "retries"
	}
	return "unknown"
}
