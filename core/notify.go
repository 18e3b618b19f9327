package core

import "softcan/protocol"

// NotifyKind tells what a Notification reports
type NotifyKind uint8

const (
	// NotifyRX: a foreign frame was received intact
	NotifyRX NotifyKind = iota
	// NotifyTX: the queued frame was sent and acknowledged
	NotifyTX
	// NotifyError: a protocol error was seen, see Notification.Error
	NotifyError
)

func (k NotifyKind) String() string {
	switch k {
	case NotifyRX:
		return "rx"
	case NotifyTX:
		return "tx"
	case NotifyError:
		return "error"
	}
	return "unknown"
}

// Notification is handed to the sink from the sampling context.
// Frame is only valid for the duration of the Notify call; copy it to keep it.
type Notification struct {
	Kind  NotifyKind
	Frame *protocol.Frame // nil for most errors
	Error ErrorKind
}

// NotifyHandler receives controller events. Notify runs in interrupt context
// on hardware and must not block. It may call Transmit.
type NotifyHandler interface {
	Notify(n *Notification)
}

// NotifyFunc adapts a plain function to NotifyHandler
type NotifyFunc func(n *Notification)

// Notify calls f(n)
func (f NotifyFunc) Notify(n *Notification) {
	f(n)
}
