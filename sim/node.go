package sim

import (
	"softcan/core"
	"softcan/protocol"
)

// driver is the BusDriver of a simulated node. The bus pushes samples
// directly through HandleSample, so ReadSample never has anything queued.
type driver struct {
	tx      protocol.Level
	running bool
}

func (d *driver) Configure(uint8, core.Timing, core.Pin, core.Pin) error { return nil }

func (d *driver) Start() error {
	d.running = true
	return nil
}

func (d *driver) Stop() error {
	d.running = false
	d.tx = protocol.Recessive
	return nil
}

func (d *driver) ReadSample() (protocol.Level, uint32, bool) {
	return protocol.Recessive, 0, false
}

func (d *driver) SetTx(level protocol.Level) {
	d.tx = level
}

type scheduled struct {
	bit   uint64
	frame protocol.Frame
}

// Node is one controller attached to the bus
type Node struct {
	Name string

	bus        *Bus
	ctrl       *core.Controller
	drv        *driver
	channel    uint8
	rxPin      core.Pin
	txPin      core.Pin
	maxRetries uint32
	offset     uint64 // quanta before the node sees the bus
	skew       int    // fast (>0) or slow (<0) by one quantum every |skew| quanta
	tick       uint32
	pending    []scheduled
	events     []Event
	current    protocol.Frame // last frame handed to the controller
	losses     uint32         // arbitration losses already attributed
}

// NodeOption configures a Node
type NodeOption func(*Node)

// WithChannel selects the controller channel number
func WithChannel(ch uint8) NodeOption {
	return func(n *Node) {
		n.channel = ch
	}
}

// WithPins records the RX and TX pin numbers passed to Start
func WithPins(rx, tx core.Pin) NodeOption {
	return func(n *Node) {
		n.rxPin = rx
		n.txPin = tx
	}
}

// WithOffset delays the node's view of the bus by a number of quanta
func WithOffset(quanta uint64) NodeOption {
	return func(n *Node) {
		n.offset = quanta
	}
}

// WithSkew makes the node clock run fast (every > 0) or slow (every < 0)
// by one quantum every |every| quanta
func WithSkew(every int) NodeOption {
	return func(n *Node) {
		n.skew = every
	}
}

// WithMaxRetries limits error retries of the node's frames
func WithMaxRetries(retries uint32) NodeOption {
	return func(n *Node) {
		n.maxRetries = retries
	}
}

// Controller returns the node's controller
func (n *Node) Controller() *core.Controller {
	return n.ctrl
}

// Transmit queues f immediately
func (n *Node) Transmit(f protocol.Frame) error {
	if err := n.ctrl.Transmit(&f); err != nil {
		return err
	}
	n.current = f
	return nil
}

// Schedule queues f for transmission once the bus reaches bit and the
// transmit slot is free
func (n *Node) Schedule(bit uint64, f protocol.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	n.pending = append(n.pending, scheduled{bit: bit, frame: f})
	return nil
}

// Events returns the events captured by this node
func (n *Node) Events() []Event {
	return n.events
}

// Count returns how many events of a kind the node captured
func (n *Node) Count(kind core.NotifyKind) int {
	c := 0
	for _, ev := range n.events {
		if ev.Kind == kind {
			c++
		}
	}
	return c
}

// Errors returns the error kinds the node reported, in order
func (n *Node) Errors() []core.ErrorKind {
	var out []core.ErrorKind
	for _, ev := range n.events {
		if ev.Kind == core.NotifyError {
			out = append(out, ev.Error)
		}
	}
	return out
}

// Notify implements core.NotifyHandler
func (n *Node) Notify(note *core.Notification) {
	ev := Event{
		Node:  n.Name,
		Kind:  note.Kind,
		Error: note.Error,
		Bit:   n.bus.Bit(),
	}
	if note.Frame != nil {
		ev.Frame = *note.Frame
		ev.HasFrame = true
	}
	if note.Kind == core.NotifyRX {
		// The first frame received after losing arbitration is the winner
		if losses := n.ctrl.Statistics().ArbitrationLosses; losses != n.losses {
			n.losses = losses
			n.bus.contests = append(n.bus.contests, contest{winner: ev.Frame.ID, loser: n.current.ID})
		}
	}
	n.events = append(n.events, ev)
	n.bus.capture(ev)
}

func (n *Node) schedule(b *Bus) {
	if len(n.pending) == 0 || n.pending[0].bit > b.Bit() {
		return
	}
	if n.ctrl.CheckTransmit() == 0 {
		return
	}
	if err := n.Transmit(n.pending[0].frame); err != nil {
		return
	}
	n.pending = n.pending[1:]
}

// sample delivers one bus quantum to the controller, applying offset and skew
func (n *Node) sample(quantum uint64, level protocol.Level) {
	if quantum < n.offset {
		return
	}
	local := quantum - n.offset
	switch {
	case n.skew > 0 && local%uint64(n.skew) == uint64(n.skew)-1:
		// Fast clock: one extra quantum elapses at the previous level
		n.tick += 2
	case n.skew < 0 && local%uint64(-n.skew) == uint64(-n.skew)-1:
		// Slow clock: this quantum is never seen
		return
	default:
		n.tick++
	}
	n.ctrl.HandleSample(level, n.tick)
}
