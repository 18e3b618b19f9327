//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"
)

// TIMER peripheral, a free running 64-bit microsecond counter
const (
	timerBase    = 0x40054000
	timerRawHigh = timerBase + 0x08
	timerRawLow  = timerBase + 0x0C
)

var (
	rawHigh = (*volatile.Register32)(unsafe.Pointer(uintptr(timerRawHigh)))
	rawLow  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerRawLow)))
)

// micros reads the counter without latching, retrying across a carry into
// the high word
func micros() uint64 {
	for {
		hi := rawHigh.Get()
		lo := rawLow.Get()
		if rawHigh.Get() == hi {
			return uint64(hi)<<32 | uint64(lo)
		}
	}
}

// millisClock returns a bridge timestamp source counting from now
func millisClock() func() uint32 {
	start := micros()
	return func() uint32 {
		return uint32((micros() - start) / 1000)
	}
}
