//go:build tinygo

package core

import "runtime/interrupt"

// disableInterrupts masks interrupts so application calls cannot interleave
// with the sampling handler, and returns the previous state
func disableInterrupts() interrupt.State {
	return interrupt.Disable()
}

// restoreInterrupts leaves the critical section
func restoreInterrupts(state interrupt.State) {
	interrupt.Restore(state)
}
