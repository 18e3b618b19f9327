package core

import (
	"errors"
	"testing"

	"softcan/protocol"
)

// MockBusDriver is a test implementation of BusDriver
type MockBusDriver struct {
	tx         protocol.Level
	configured bool
	started    bool
	timing     Timing
	samples    []protocol.Level
	tick       uint32
}

func (m *MockBusDriver) Configure(channel uint8, t Timing, rx, tx Pin) error {
	m.configured = true
	m.timing = t
	return nil
}

func (m *MockBusDriver) Start() error {
	m.started = true
	return nil
}

func (m *MockBusDriver) Stop() error {
	m.started = false
	return nil
}

func (m *MockBusDriver) ReadSample() (protocol.Level, uint32, bool) {
	if len(m.samples) == 0 {
		return protocol.Recessive, 0, false
	}
	l := m.samples[0]
	m.samples = m.samples[1:]
	m.tick++
	return l, m.tick, true
}

func (m *MockBusDriver) SetTx(level protocol.Level) {
	m.tx = level
}

// recorder keeps a copy of every notification
type recorder struct {
	events []Notification
}

func (r *recorder) Notify(n *Notification) {
	ev := *n
	if n.Frame != nil {
		f := *n.Frame
		ev.Frame = &f
	}
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind NotifyKind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// loopBus is a wired-AND bus of controllers stepped one quantum at a time
type loopBus struct {
	nodes   []*Controller
	drivers []*MockBusDriver
	sinks   []*recorder
	force   []protocol.Level // externally driven levels, one per quantum
}

func newLoopBus(t *testing.T, n int) *loopBus {
	t.Helper()
	b := &loopBus{}
	for i := 0; i < n; i++ {
		drv := &MockBusDriver{tx: protocol.Recessive}
		c, err := SetupWithDriver(1, drv)
		if err != nil {
			t.Fatalf("SetupWithDriver failed: %v", err)
		}
		rec := &recorder{}
		c.SetNotificationSink(rec)
		if err := c.Start(125000000, 500000, 10, 11); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		b.nodes = append(b.nodes, c)
		b.drivers = append(b.drivers, drv)
		b.sinks = append(b.sinks, rec)
	}
	return b
}

func (b *loopBus) step() {
	level := protocol.Recessive
	for _, d := range b.drivers {
		level &= d.tx
	}
	if len(b.force) > 0 {
		level &= b.force[0]
		b.force = b.force[1:]
	}
	for _, c := range b.nodes {
		c.Sample(level)
	}
}

func (b *loopBus) run(bits int) {
	for i := 0; i < bits*DefaultQuanta; i++ {
		b.step()
	}
}

// runUntil steps until done returns true or bits have elapsed
func (b *loopBus) runUntil(bits int, done func() bool) bool {
	for i := 0; i < bits*DefaultQuanta; i++ {
		b.step()
		if done() {
			return true
		}
	}
	return false
}

// play drives raw bits onto the bus as an external transmitter would
func (b *loopBus) play(bits []protocol.Level) {
	for _, l := range bits {
		for q := 0; q < DefaultQuanta; q++ {
			b.force = append(b.force, l)
		}
	}
}

func TestSetupInvalidChannel(t *testing.T) {
	if _, err := Setup(NumChannels); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("Expected ErrInvalidChannel, got %v", err)
	}
	if _, err := SetupWithDriver(0, nil); !errors.Is(err, ErrNoDriver) {
		t.Errorf("Expected ErrNoDriver, got %v", err)
	}
}

func TestSetupUsesDriverFactory(t *testing.T) {
	drv := &MockBusDriver{}
	var asked uint8
	SetBusDriverFactory(func(channel uint8) (BusDriver, error) {
		asked = channel
		return drv, nil
	})
	defer SetBusDriverFactory(nil)

	c, err := Setup(1)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if asked != 1 || c.Channel() != 1 {
		t.Errorf("Expected channel 1, got factory %d controller %d", asked, c.Channel())
	}
	if err := c.Start(125000000, 500000, 10, 11); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !drv.configured || !drv.started {
		t.Errorf("Expected driver configured and started")
	}
	if drv.timing.Quanta != DefaultQuanta || drv.timing.Bitrate != 500000 {
		t.Errorf("Expected default timing at 500000, got %+v", drv.timing)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if drv.started {
		t.Errorf("Expected driver stopped")
	}
}

func TestStartRejectsBadTiming(t *testing.T) {
	c, _ := SetupWithDriver(0, &MockBusDriver{})
	if err := c.Start(125000000, 0, 10, 11); !errors.Is(err, ErrInvalidTiming) {
		t.Errorf("Expected ErrInvalidTiming, got %v", err)
	}
	if c.Running() {
		t.Errorf("Expected controller not running")
	}
}

func TestTicksToSample(t *testing.T) {
	c, _ := SetupWithDriver(0, &MockBusDriver{})
	if err := c.Start(125000000, 500000, 10, 11); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := c.TicksToSample(); got != DefaultSamplePoint {
		t.Errorf("Expected %d, got %d", DefaultSamplePoint, got)
	}
	for i := 0; i < 3; i++ {
		c.Sample(protocol.Recessive)
	}
	if got := c.TicksToSample(); got != DefaultSamplePoint-3 {
		t.Errorf("Expected %d, got %d", DefaultSamplePoint-3, got)
	}
}

func TestTransmitInvalidFrame(t *testing.T) {
	c, _ := SetupWithDriver(0, &MockBusDriver{})
	f := protocol.Frame{ID: 0x123, DLC: 9}
	err := c.Transmit(&f)
	if !errors.Is(err, ErrInvalidFrame) || !errors.Is(err, protocol.ErrInvalidDLC) {
		t.Errorf("Expected ErrInvalidFrame wrapping ErrInvalidDLC, got %v", err)
	}
	if err := c.Transmit(nil); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Expected ErrInvalidFrame for nil, got %v", err)
	}
	if c.CheckTransmit() != 1 {
		t.Errorf("Expected slot to stay free")
	}
}

func TestTransmitAcknowledged(t *testing.T) {
	b := newLoopBus(t, 2)
	f := protocol.Frame{ID: 0x123, DLC: 2, Data: [8]byte{0xAA, 0xBB}}
	if err := b.nodes[0].Transmit(&f); err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}
	if b.nodes[0].CheckTransmit() != 0 {
		t.Errorf("Expected no free slot right after Transmit")
	}
	if err := b.nodes[0].Transmit(&f); !errors.Is(err, ErrSlotBusy) {
		t.Errorf("Expected ErrSlotBusy, got %v", err)
	}

	if !b.runUntil(200, func() bool { return b.nodes[0].CheckTransmit() == 1 }) {
		t.Fatalf("Frame was never sent")
	}

	tx := b.sinks[0]
	if len(tx.events) != 1 || tx.events[0].Kind != NotifyTX {
		t.Fatalf("Expected exactly one TX notification, got %+v", tx.events)
	}
	if !tx.events[0].Frame.Equal(&f) {
		t.Errorf("Expected TX frame %s, got %s", f, *tx.events[0].Frame)
	}
	rx := b.sinks[1]
	if len(rx.events) != 1 || rx.events[0].Kind != NotifyRX {
		t.Fatalf("Expected exactly one RX notification, got %+v", rx.events)
	}
	if !rx.events[0].Frame.Equal(&f) {
		t.Errorf("Expected RX frame %s, got %s", f, *rx.events[0].Frame)
	}

	s0 := b.nodes[0].Statistics()
	s1 := b.nodes[1].Statistics()
	if s0.TxFrames != 1 || s0.RxFrames != 0 || s0.TxRetries != 0 {
		t.Errorf("Unexpected transmitter stats %+v", s0)
	}
	if s1.RxFrames != 1 || s1.ParseErrors != 0 {
		t.Errorf("Unexpected receiver stats %+v", s1)
	}
}

func TestAckErrorRetriesExhausted(t *testing.T) {
	b := newLoopBus(t, 1)
	c := b.nodes[0]
	c.SetMaxRetries(2)
	f := protocol.Frame{ID: 0x7FF, DLC: 1, Data: [8]byte{0x42}}
	if err := c.Transmit(&f); err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}
	if !b.runUntil(600, func() bool { return c.CheckTransmit() == 1 }) {
		t.Fatalf("Expected the slot to be released after the retry limit")
	}

	events := b.sinks[0].events
	if len(events) != 4 {
		t.Fatalf("Expected 3 ACK errors and a give-up, got %+v", events)
	}
	for i := 0; i < 3; i++ {
		if events[i].Kind != NotifyError || events[i].Error != ErrorAck {
			t.Errorf("Event %d: expected ACK error, got %+v", i, events[i])
		}
	}
	last := events[3]
	if last.Kind != NotifyError || last.Error != ErrorRetriesExhausted || last.Frame == nil || !last.Frame.Equal(&f) {
		t.Errorf("Expected retries exhausted for %s, got %+v", f, last)
	}
	if !errors.Is(last.Error.Err(), ErrRetriesExhausted) {
		t.Errorf("Expected ErrRetriesExhausted sentinel")
	}

	s := c.Statistics()
	if s.AckErrors != 3 || s.TxRetries != 2 || s.TxFrames != 0 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestArbitration(t *testing.T) {
	tests := []struct {
		name   string
		winner protocol.Frame
		loser  protocol.Frame
	}{
		{
			"lower identifier wins",
			protocol.Frame{ID: 0x100, DLC: 1, Data: [8]byte{1}},
			protocol.Frame{ID: 0x200, DLC: 1, Data: [8]byte{2}},
		},
		{
			"standard beats extended with the same base",
			protocol.Frame{ID: 0x123, DLC: 0},
			protocol.Frame{ID: protocol.ExtendedID(0x123<<18 | 5), DLC: 0},
		},
		{
			"data beats remote",
			protocol.Frame{ID: 0x321, DLC: 1, Data: [8]byte{9}},
			protocol.Frame{ID: protocol.RemoteID(0x321), DLC: 1},
		},
		{
			"extended identifiers",
			protocol.Frame{ID: protocol.ExtendedID(0x0ABCDE0), DLC: 2, Data: [8]byte{1, 2}},
			protocol.Frame{ID: protocol.ExtendedID(0x0ABCDE1), DLC: 2, Data: [8]byte{3, 4}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newLoopBus(t, 3)
			// Queue the loser on node 0 so slot order cannot decide
			if err := b.nodes[0].Transmit(&tt.loser); err != nil {
				t.Fatalf("Transmit failed: %v", err)
			}
			if err := b.nodes[1].Transmit(&tt.winner); err != nil {
				t.Fatalf("Transmit failed: %v", err)
			}
			done := func() bool {
				return b.nodes[0].CheckTransmit() == 1 && b.nodes[1].CheckTransmit() == 1
			}
			if !b.runUntil(400, done) {
				t.Fatalf("Frames were not sent")
			}

			loser := b.sinks[0].events
			if len(loser) != 2 || loser[0].Kind != NotifyRX || loser[1].Kind != NotifyTX {
				t.Fatalf("Expected loser to receive then transmit, got %+v", loser)
			}
			if !loser[0].Frame.Equal(&tt.winner) || !loser[1].Frame.Equal(&tt.loser) {
				t.Errorf("Unexpected loser frames %s, %s", *loser[0].Frame, *loser[1].Frame)
			}
			winner := b.sinks[1].events
			if len(winner) != 2 || winner[0].Kind != NotifyTX || winner[1].Kind != NotifyRX {
				t.Fatalf("Expected winner to transmit then receive, got %+v", winner)
			}
			observer := b.sinks[2].events
			if len(observer) != 2 || !observer[0].Frame.Equal(&tt.winner) || !observer[1].Frame.Equal(&tt.loser) {
				t.Fatalf("Expected observer to see winner then loser, got %+v", observer)
			}

			s := b.nodes[0].Statistics()
			if s.ArbitrationLosses != 1 || s.TxRetries != 1 || s.TxFrames != 1 {
				t.Errorf("Unexpected loser stats %+v", s)
			}
			if s := b.nodes[1].Statistics(); s.ArbitrationLosses != 0 || s.TxRetries != 0 {
				t.Errorf("Unexpected winner stats %+v", s)
			}
		})
	}
}

func TestStuffErrorInjection(t *testing.T) {
	b := newLoopBus(t, 1)
	b.run(protocol.BusIdleBits + 1)

	f := protocol.Frame{ID: 0x123, DLC: 2, Data: [8]byte{0xAA, 0xBB}}
	bs := mustEncode(t, &f)
	raw := append([]protocol.Level(nil), bs.Bits()...)
	start := bs.CRCDelim - 20
	for i := start; i < start+6; i++ {
		raw[i] = protocol.Dominant
	}
	b.play(raw)
	b.run(len(raw) + 20)

	events := b.sinks[0].events
	if len(events) != 1 {
		t.Fatalf("Expected exactly one notification, got %+v", events)
	}
	if events[0].Kind != NotifyError || events[0].Error != ErrorStuff {
		t.Errorf("Expected stuff error, got %+v", events[0])
	}
	s := b.nodes[0].Statistics()
	if s.StuffErrors != 1 || s.ParseErrors != 1 || s.RxFrames != 0 {
		t.Errorf("Unexpected stats %+v", s)
	}

	// The controller recovers and receives the next frame
	b.play(bs.Bits())
	b.run(bs.Len() + 5)
	if b.sinks[0].count(NotifyRX) != 1 {
		t.Errorf("Expected the next frame to be received, got %+v", b.sinks[0].events)
	}
}

func TestStopSuppressesNotifications(t *testing.T) {
	b := newLoopBus(t, 2)
	f := protocol.Frame{ID: 0x10, DLC: 0}
	b.nodes[0].Transmit(&f)
	if err := b.nodes[0].Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if b.nodes[0].CheckTransmit() != 1 {
		t.Errorf("Expected Stop to discard the queued frame")
	}
	b.run(200)
	if len(b.sinks[0].events) != 0 || len(b.sinks[1].events) != 0 {
		t.Errorf("Expected no notifications, got %+v / %+v", b.sinks[0].events, b.sinks[1].events)
	}
	if b.drivers[0].tx != protocol.Recessive {
		t.Errorf("Expected TX released to recessive")
	}
}

// stopOnError stops the controller from inside the sink after the given
// number of ACK errors and records whatever arrives afterwards
type stopOnError struct {
	c       *Controller
	limit   int
	acks    int
	stopped bool
	late    []Notification
}

func (s *stopOnError) Notify(n *Notification) {
	if s.stopped {
		s.late = append(s.late, *n)
		return
	}
	if n.Kind == NotifyError && n.Error == ErrorAck {
		s.acks++
		if s.acks == s.limit {
			s.c.Stop()
			s.stopped = true
		}
	}
}

func TestStopFromSinkDropsQueuedNotifications(t *testing.T) {
	b := newLoopBus(t, 1)
	c := b.nodes[0]
	// The second ACK error exhausts the retries in the same bit, so two
	// notifications are dispatched together
	c.SetMaxRetries(1)
	sink := &stopOnError{c: c, limit: 2}
	c.SetNotificationSink(sink)

	f := protocol.Frame{ID: 0x7FF, DLC: 1, Data: [8]byte{0x00}}
	if err := c.Transmit(&f); err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}
	b.runUntil(600, func() bool { return sink.stopped })
	b.run(50)

	if !sink.stopped {
		t.Fatalf("Expected the sink to stop the controller")
	}
	if len(sink.late) != 0 {
		t.Errorf("Expected no notifications after Stop, got %+v", sink.late)
	}
	if c.Running() || c.CheckTransmit() != 1 {
		t.Errorf("Expected a stopped controller with a free slot")
	}
}

func TestSinkMayTransmit(t *testing.T) {
	b := newLoopBus(t, 2)
	first := protocol.Frame{ID: 0x50, DLC: 1, Data: [8]byte{1}}
	second := protocol.Frame{ID: 0x51, DLC: 1, Data: [8]byte{2}}
	sent := 0
	b.nodes[0].SetNotificationSink(NotifyFunc(func(n *Notification) {
		if n.Kind == NotifyTX {
			sent++
			if sent == 1 {
				if err := b.nodes[0].Transmit(&second); err != nil {
					t.Errorf("Transmit from sink failed: %v", err)
				}
			}
		}
	}))
	b.nodes[0].Transmit(&first)
	b.run(300)
	if sent != 2 {
		t.Errorf("Expected 2 frames sent, got %d", sent)
	}
	if b.sinks[1].count(NotifyRX) != 2 {
		t.Errorf("Expected 2 frames received, got %+v", b.sinks[1].events)
	}
}

func TestHandleSampleCatchUp(t *testing.T) {
	c, _ := SetupWithDriver(0, &MockBusDriver{})
	if err := c.Start(125000000, 500000, 10, 11); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// 1 + 128 + 128 quanta is more than the 11 idle bits needed
	c.HandleSample(protocol.Recessive, 1)
	c.HandleSample(protocol.Recessive, 1+maxCatchUp)
	if c.rx.idle() {
		t.Fatalf("Expected integration to need more than %d quanta", 1+maxCatchUp)
	}
	c.HandleSample(protocol.Recessive, 1+2*maxCatchUp)
	if !c.rx.idle() {
		t.Errorf("Expected bus idle after catch-up, got %s", c.rx.state)
	}
	// A repeated tick is ignored
	bits := c.bitCount
	c.HandleSample(protocol.Recessive, 1+2*maxCatchUp)
	if c.bitCount != bits {
		t.Errorf("Expected duplicate tick to be ignored")
	}
}

func TestHandleInterruptDrainsDriver(t *testing.T) {
	drv := &MockBusDriver{}
	c, _ := SetupWithDriver(0, drv)
	c.Start(125000000, 500000, 10, 11)
	for i := 0; i < 12*DefaultQuanta; i++ {
		drv.samples = append(drv.samples, protocol.Recessive)
	}
	c.HandleInterrupt()
	if len(drv.samples) != 0 {
		t.Errorf("Expected all samples consumed, %d left", len(drv.samples))
	}
	if !c.rx.idle() {
		t.Errorf("Expected bus idle, got %s", c.rx.state)
	}
	if c.bitCount != 12 {
		t.Errorf("Expected 12 bits sampled, got %d", c.bitCount)
	}
}

// MockBitDriver is a BusDriver that times bits itself
type MockBitDriver struct {
	MockBusDriver
	bits  []protocol.Level
	drove int // SetTx calls, one per handled bit
}

func (m *MockBitDriver) ReadBit() (protocol.Level, bool) {
	if len(m.bits) == 0 {
		return protocol.Recessive, false
	}
	l := m.bits[0]
	m.bits = m.bits[1:]
	return l, true
}

func (m *MockBitDriver) SetTx(level protocol.Level) {
	m.tx = level
	m.drove++
}

// bitBus is a wired-AND bus of controllers stepped one bit at a time
type bitBus struct {
	nodes   []*Controller
	drivers []*MockBitDriver
	sinks   []*recorder
}

func newBitBus(t *testing.T, n int) *bitBus {
	t.Helper()
	b := &bitBus{}
	for i := 0; i < n; i++ {
		drv := &MockBitDriver{}
		drv.tx = protocol.Recessive
		c, err := SetupWithDriver(0, drv)
		if err != nil {
			t.Fatalf("SetupWithDriver failed: %v", err)
		}
		rec := &recorder{}
		c.SetNotificationSink(rec)
		if err := c.Start(125000000, 125000, 10, 11); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		b.nodes = append(b.nodes, c)
		b.drivers = append(b.drivers, drv)
		b.sinks = append(b.sinks, rec)
	}
	return b
}

func (b *bitBus) runUntil(bits int, done func() bool) bool {
	for i := 0; i < bits; i++ {
		level := protocol.Recessive
		for _, d := range b.drivers {
			level &= d.tx
		}
		for _, c := range b.nodes {
			c.HandleBit(level)
		}
		if done() {
			return true
		}
	}
	return false
}

func TestHandleBitTransmitAcknowledged(t *testing.T) {
	b := newBitBus(t, 2)
	f := protocol.Frame{ID: protocol.ExtendedID(0x1ABCDE), DLC: 3, Data: [8]byte{1, 2, 3}}
	if err := b.nodes[0].Transmit(&f); err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}
	if !b.runUntil(200, func() bool { return b.nodes[0].CheckTransmit() == 1 }) {
		t.Fatalf("Frame was never sent")
	}

	tx := b.sinks[0].events
	if len(tx) != 1 || tx[0].Kind != NotifyTX || !tx[0].Frame.Equal(&f) {
		t.Fatalf("Expected one TX notification for %s, got %+v", f, tx)
	}
	rx := b.sinks[1].events
	if len(rx) != 1 || rx[0].Kind != NotifyRX || !rx[0].Frame.Equal(&f) {
		t.Fatalf("Expected one RX notification for %s, got %+v", f, rx)
	}
	// Every handled bit drives a level, not only the changes. Start adds one.
	if want := int(b.nodes[1].bitCount) + 1; b.drivers[1].drove != want {
		t.Errorf("Expected %d SetTx calls, got %d", want, b.drivers[1].drove)
	}
	if s := b.nodes[0].Statistics(); s.TxFrames != 1 || s.TxRetries != 0 {
		t.Errorf("Unexpected transmitter stats %+v", s)
	}
}

func TestHandleBitArbitration(t *testing.T) {
	b := newBitBus(t, 2)
	loser := protocol.Frame{ID: 0x300, DLC: 1, Data: [8]byte{3}}
	winner := protocol.Frame{ID: 0x100, DLC: 1, Data: [8]byte{1}}
	b.nodes[0].Transmit(&loser)
	b.nodes[1].Transmit(&winner)
	done := func() bool {
		return b.nodes[0].CheckTransmit() == 1 && b.nodes[1].CheckTransmit() == 1
	}
	if !b.runUntil(400, done) {
		t.Fatalf("Frames were not sent")
	}
	ev := b.sinks[0].events
	if len(ev) != 2 || ev[0].Kind != NotifyRX || ev[1].Kind != NotifyTX {
		t.Fatalf("Expected loser to receive then transmit, got %+v", ev)
	}
	if !ev[0].Frame.Equal(&winner) {
		t.Errorf("Expected %s first, got %s", winner, *ev[0].Frame)
	}
	if s := b.nodes[0].Statistics(); s.ArbitrationLosses != 1 {
		t.Errorf("Expected 1 arbitration loss, got %d", s.ArbitrationLosses)
	}
}

func TestHandleInterruptReadsBits(t *testing.T) {
	drv := &MockBitDriver{}
	c, _ := SetupWithDriver(0, drv)
	c.Start(125000000, 125000, 10, 11)
	for i := 0; i < 12; i++ {
		drv.bits = append(drv.bits, protocol.Recessive)
	}
	// Quantum samples are ignored for a bit driver
	drv.samples = []protocol.Level{protocol.Dominant}
	c.HandleInterrupt()
	if len(drv.bits) != 0 {
		t.Errorf("Expected all bits consumed, %d left", len(drv.bits))
	}
	if len(drv.samples) != 1 {
		t.Errorf("Expected quantum samples untouched")
	}
	if c.bitCount != 12 {
		t.Errorf("Expected 12 bits, got %d", c.bitCount)
	}
	if !c.rx.idle() {
		t.Errorf("Expected bus idle, got %s", c.rx.state)
	}
}

func TestHandleBitStopped(t *testing.T) {
	drv := &MockBitDriver{}
	c, _ := SetupWithDriver(0, drv)
	c.HandleBit(protocol.Dominant)
	if c.bitCount != 0 || drv.drove != 0 {
		t.Errorf("Expected a stopped controller to ignore bits")
	}
}

func TestTimingAfterStart(t *testing.T) {
	c, _ := SetupWithDriver(0, &MockBusDriver{})
	if err := c.Start(125000000, 250000, 10, 11); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	want := DefaultTiming(125000000, 250000)
	if got := c.Timing(); got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestTraceRecordsEvents(t *testing.T) {
	b := newLoopBus(t, 2)
	f := protocol.Frame{ID: 0x7A, DLC: 0}
	b.nodes[0].Transmit(&f)
	b.run(100)

	var kinds []uint8
	for _, evt := range b.nodes[0].Trace() {
		kinds = append(kinds, evt.Kind)
	}
	want := []uint8{EvtBusReady, EvtTxStart, EvtSOF, EvtTxFrame}
	if len(kinds) != len(want) {
		t.Fatalf("Expected trace %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Trace event %d: expected %s, got %s", i, EventName(want[i]), EventName(kinds[i]))
		}
	}

	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(func(string) {})
	b.nodes[0].DumpTrace()
	if len(lines) != len(want)+2 {
		t.Errorf("Expected %d dump lines, got %d", len(want)+2, len(lines))
	}

	b.nodes[0].ClearTrace()
	if len(b.nodes[0].Trace()) != 0 {
		t.Errorf("Expected empty trace after clear")
	}
}
