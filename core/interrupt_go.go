//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// irqLock stands in for interrupt masking: the simulator and host tools
// drive HandleSample from goroutines.
var irqLock sync.Mutex

// disableInterrupts enters the controller critical section
func disableInterrupts() State {
	irqLock.Lock()
	return 0
}

// restoreInterrupts leaves the controller critical section
func restoreInterrupts(state State) {
	irqLock.Unlock()
}
