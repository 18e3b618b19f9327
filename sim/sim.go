// Package sim runs softcan controllers against each other on a simulated
// wired-AND bus, one time quantum per step.
package sim

import (
	"errors"
	"log/slog"

	"softcan/core"
	"softcan/protocol"
)

// ErrDuplicateNode is returned when a node name is reused
var ErrDuplicateNode = errors.New("sim: duplicate node name")

// Event is a notification captured from a node
type Event struct {
	Node     string
	Kind     core.NotifyKind
	Error    core.ErrorKind
	Frame    protocol.Frame
	HasFrame bool
	Bit      uint64 // bus bit time at delivery
}

// Bus connects nodes through a wired-AND line. An external source can force
// dominant levels with Inject.
type Bus struct {
	timing   core.Timing
	nodes    []*Node
	quantum  uint64
	level    protocol.Level
	force    map[uint64]protocol.Level
	events   []Event
	contests []contest
	idle     uint64 // bits the bus spent quiet
	log      *slog.Logger
}

// Option configures a Bus
type Option func(*Bus)

// WithLogger logs every captured event at debug level
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.log = l
	}
}

// New creates an empty bus with the given bit timing
func New(t core.Timing, opts ...Option) (*Bus, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	b := &Bus{
		timing: t,
		level:  protocol.Recessive,
		force:  make(map[uint64]protocol.Level),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Timing returns the bus bit timing
func (b *Bus) Timing() core.Timing {
	return b.timing
}

// Nodes returns the attached nodes in creation order
func (b *Bus) Nodes() []*Node {
	return b.nodes
}

// Node looks up a node by name
func (b *Bus) Node(name string) *Node {
	for _, n := range b.nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// AddNode creates a controller, attaches it and starts it
func (b *Bus) AddNode(name string, opts ...NodeOption) (*Node, error) {
	if b.Node(name) != nil {
		return nil, ErrDuplicateNode
	}
	n := &Node{
		Name:  name,
		bus:   b,
		drv:   &driver{tx: protocol.Recessive},
		rxPin: 0,
		txPin: 1,
	}
	for _, opt := range opts {
		opt(n)
	}
	ctrl, err := core.SetupWithDriver(n.channel, n.drv)
	if err != nil {
		return nil, err
	}
	n.ctrl = ctrl
	ctrl.SetMaxRetries(n.maxRetries)
	ctrl.SetNotificationSink(n)
	if err := ctrl.StartTiming(b.timing, n.rxPin, n.txPin); err != nil {
		return nil, err
	}
	b.nodes = append(b.nodes, n)
	return n, nil
}

// Quantum returns the number of quanta simulated so far
func (b *Bus) Quantum() uint64 {
	return b.quantum
}

// Bit returns the current bus bit time
func (b *Bus) Bit() uint64 {
	return b.quantum / uint64(b.timing.Quanta)
}

// Level returns the bus level of the last simulated quantum
func (b *Bus) Level() protocol.Level {
	return b.level
}

// Inject drives raw bits from an external source starting with the next
// quantum. Recessive bits leave the bus to the nodes.
func (b *Bus) Inject(bits []protocol.Level) {
	b.InjectAt(b.quantum, bits)
}

// InjectAt drives raw bits starting at bus bit time bit
func (b *Bus) InjectAt(bit uint64, bits []protocol.Level) {
	b.injectQuanta(bit*uint64(b.timing.Quanta), bits)
}

func (b *Bus) injectQuanta(start uint64, bits []protocol.Level) {
	q := uint64(b.timing.Quanta)
	for i, l := range bits {
		if l != protocol.Dominant {
			continue
		}
		for j := uint64(0); j < q; j++ {
			b.force[start+uint64(i)*q+j] = protocol.Dominant
		}
	}
}

// Step simulates one quantum
func (b *Bus) Step() {
	for _, n := range b.nodes {
		n.schedule(b)
	}

	level := protocol.Recessive
	for _, n := range b.nodes {
		level &= n.drv.tx
	}
	if l, ok := b.force[b.quantum]; ok {
		level &= l
		delete(b.force, b.quantum)
	}
	b.level = level
	if b.quantum%uint64(b.timing.Quanta) == uint64(b.timing.SamplePoint) && b.quiet() {
		b.idle++
	}

	for _, n := range b.nodes {
		n.sample(b.quantum, level)
	}
	b.quantum++
}

// quiet reports whether the bus is recessive and nobody wants to send
func (b *Bus) quiet() bool {
	if b.level != protocol.Recessive {
		return false
	}
	for _, n := range b.nodes {
		if n.drv.tx == protocol.Dominant || n.ctrl.CheckTransmit() == 0 {
			return false
		}
	}
	return true
}

// Run simulates a number of bit times
func (b *Bus) Run(bits int) {
	for i := 0; i < bits*int(b.timing.Quanta); i++ {
		b.Step()
	}
}

// RunUntil steps until done reports true or the bit budget runs out
func (b *Bus) RunUntil(bits int, done func() bool) bool {
	for i := 0; i < bits*int(b.timing.Quanta); i++ {
		b.Step()
		if done() {
			return true
		}
	}
	return false
}

// RunUntilSent runs until every node has an empty transmit slot and no
// scheduled frames
func (b *Bus) RunUntilSent(bits int) bool {
	return b.RunUntil(bits, func() bool {
		for _, n := range b.nodes {
			if len(n.pending) > 0 || n.ctrl.CheckTransmit() == 0 {
				return false
			}
		}
		return true
	})
}

// Events returns every captured event in delivery order
func (b *Bus) Events() []Event {
	return b.events
}

func (b *Bus) capture(ev Event) {
	b.events = append(b.events, ev)
	if b.log == nil {
		return
	}
	attrs := []any{"node", ev.Node, "kind", ev.Kind.String(), "bit", ev.Bit}
	if ev.Kind == core.NotifyError {
		attrs = append(attrs, "error", ev.Error.String())
	}
	if ev.HasFrame {
		attrs = append(attrs, "frame", ev.Frame.String())
	}
	b.log.Debug("can event", attrs...)
}
