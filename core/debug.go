package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceEvent captures a bus event for post-mortem analysis
type TraceEvent struct {
	Kind  uint8  // event type code
	State uint8  // receiver state when the event was recorded
	Bit   uint32 // controller bit counter
	Value uint32 // context-dependent value
}

// Event type codes
const (
	EvtSOF      = 1 // start of frame sampled
	EvtArbLost  = 2 // value = raw bit position
	EvtError    = 3 // value = ErrorKind
	EvtRxFrame  = 4 // value = frame ID
	EvtTxFrame  = 5 // value = frame ID
	EvtTxStart  = 6 // value = starting raw bit position
	EvtExhaust  = 7 // value = frame ID
	EvtBusReady = 8 // bus integration finished
)

const (
	TraceRingSize = 32 // keep last 32 events per controller
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// traceRing is a fixed ring of the most recent events
type traceRing struct {
	events [TraceRingSize]TraceEvent
	head   uint8
}

// record is non-blocking and allocation free, safe in the sampling interrupt
func (r *traceRing) record(kind uint8, state rxState, bit, value uint32) {
	idx := r.head
	r.events[idx] = TraceEvent{
		Kind:  kind,
		State: uint8(state),
		Bit:   bit,
		Value: value,
	}
	r.head = (idx + 1) % TraceRingSize
}

// snapshot returns the recorded events from oldest to newest
func (r *traceRing) snapshot(dst []TraceEvent) []TraceEvent {
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := r.events[(r.head+i)%TraceRingSize]
		if evt.Kind == 0 {
			continue // Empty slot
		}
		dst = append(dst, evt)
	}
	return dst
}

func (r *traceRing) clear() {
	*r = traceRing{}
}

// EventName returns a short label for a trace event code
func EventName(kind uint8) string {
	switch kind {
	case EvtSOF:
		return "SOF"
	case EvtArbLost:
		return "ARB_LOST"
	case EvtError:
		return "ERROR"
	case EvtRxFrame:
		return "RX"
	case EvtTxFrame:
		return "TX"
	case EvtTxStart:
		return "TX_START"
	case EvtExhaust:
		return "TX_GIVEUP"
	case EvtBusReady:
		return "BUS_READY"
	}
	return "UNKNOWN"
}

// DumpTrace outputs the controller trace ring (call after an error, not from
// the sampling interrupt)
func (c *Controller) DumpTrace() {
	if debugPrintln == nil {
		return
	}
	events := c.Trace()
	debugPrintln("[CAN" + utoa(uint32(c.channel)) + "] === Trace Dump ===")
	for i := range events {
		evt := &events[i]
		value := utoa(evt.Value)
		switch evt.Kind {
		case EvtError:
			value = ErrorKind(evt.Value).String()
		case EvtRxFrame, EvtTxFrame, EvtExhaust:
			value = hex32(evt.Value)
		}
		debugPrintln("[CAN" + utoa(uint32(c.channel)) + "] " + EventName(evt.Kind) +
			" bit=" + utoa(evt.Bit) +
			" state=" + rxState(evt.State).String() +
			" v=" + value)
	}
	debugPrintln("[CAN" + utoa(uint32(c.channel)) + "] === End Dump ===")
}
