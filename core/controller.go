// Package core is a software CAN 2.0A/B controller. The bus is sampled once
// per time quantum by a BusDriver; everything from bit timing up to frame
// arbitration, acknowledgement and error signalling runs in HandleSample.
// A BitDriver does the bit timing itself and feeds HandleBit instead.
package core

import (
	"errors"

	"softcan/protocol"
)

// NumChannels is the number of independent controllers per chip
const NumChannels = 2

// maxCatchUp bounds how many missed quanta are replayed in one HandleSample
const maxCatchUp = 4 * MaxQuanta

const notifyQueueLen = 4

// Controller runs one CAN channel. All bus processing happens in the
// sampling context; the exported methods may be called from anywhere.
type Controller struct {
	channel uint8
	driver  BusDriver
	bits    BitDriver // driver when it does its own bit timing
	timing  Timing
	rxPin   Pin
	txPin   Pin
	running bool

	timer    bitTimer
	rx       receiver
	tx       transmitter
	out      protocol.Level // level driven for the current bit
	flagBits uint8          // error flag bits still to drive
	ackNext  bool           // drive the next bit dominant as ACK
	bitCount uint32
	lastTick uint32
	haveTick bool

	maxRetries uint32
	stats      Statistics
	sink       NotifyHandler
	gen        uint32 // bumped by Start and Stop, drops notifications in flight

	// Notifications are queued under the lock and delivered after it
	queue    [notifyQueueLen]Notification
	frames   [notifyQueueLen]protocol.Frame
	queued   int
	dispatch [notifyQueueLen]Notification
	dframes  [notifyQueueLen]protocol.Frame

	trace traceRing
}

// Setup creates a controller for channel using the registered driver factory.
// Without a factory the controller is only driven through HandleSample.
func Setup(channel uint8) (*Controller, error) {
	if channel >= NumChannels {
		return nil, ErrInvalidChannel
	}
	var drv BusDriver = nullDriver{}
	if busDriverFactory != nil {
		d, err := busDriverFactory(channel)
		if err != nil {
			return nil, err
		}
		drv = d
	}
	return SetupWithDriver(channel, drv)
}

// SetupWithDriver creates a controller bound to an explicit driver
func SetupWithDriver(channel uint8, driver BusDriver) (*Controller, error) {
	if channel >= NumChannels {
		return nil, ErrInvalidChannel
	}
	if driver == nil {
		return nil, ErrNoDriver
	}
	c := &Controller{
		channel: channel,
		driver:  driver,
		out:     protocol.Recessive,
	}
	c.bits, _ = driver.(BitDriver)
	c.rx.reset()
	return c, nil
}

// Channel returns the channel number given to Setup
func (c *Controller) Channel() uint8 {
	return c.channel
}

// SetNotificationSink installs the event handler. nil discards events.
func (c *Controller) SetNotificationSink(h NotifyHandler) {
	state := disableInterrupts()
	c.sink = h
	restoreInterrupts(state)
}

// SetMaxRetries limits error-driven retransmissions of one frame.
// Zero retries forever. Lost arbitration never counts.
func (c *Controller) SetMaxRetries(n uint32) {
	state := disableInterrupts()
	c.maxRetries = n
	restoreInterrupts(state)
}

// Start configures the driver with the default quantum layout and joins the bus
func (c *Controller) Start(sysClock, bitrate uint32, rx, tx Pin) error {
	return c.StartTiming(DefaultTiming(sysClock, bitrate), rx, tx)
}

// StartTiming is Start with an explicit bit timing
func (c *Controller) StartTiming(t Timing, rx, tx Pin) error {
	if err := t.Validate(); err != nil {
		return err
	}

	state := disableInterrupts()
	wasRunning := c.running
	c.running = false
	restoreInterrupts(state)
	if wasRunning {
		c.driver.Stop()
	}

	if err := c.driver.Configure(c.channel, t, rx, tx); err != nil {
		return err
	}

	state = disableInterrupts()
	c.timing = t
	c.rxPin = rx
	c.txPin = tx
	c.timer.reset(t)
	c.rx.reset()
	if c.tx.active() {
		c.tx.backoff()
	}
	c.flagBits = 0
	c.ackNext = false
	c.out = protocol.Recessive
	c.haveTick = false
	c.queued = 0
	c.gen++
	c.running = true
	restoreInterrupts(state)

	c.driver.SetTx(protocol.Recessive)
	if err := c.driver.Start(); err != nil {
		state = disableInterrupts()
		c.running = false
		restoreInterrupts(state)
		return err
	}
	return nil
}

// Stop leaves the bus and discards any queued frame. No notifications are
// delivered afterwards.
func (c *Controller) Stop() error {
	state := disableInterrupts()
	wasRunning := c.running
	c.running = false
	c.tx.release()
	c.flagBits = 0
	c.ackNext = false
	c.queued = 0
	c.gen++
	c.out = protocol.Recessive
	restoreInterrupts(state)
	if !wasRunning {
		return nil
	}
	c.driver.SetTx(protocol.Recessive)
	return c.driver.Stop()
}

// Running reports whether the controller is attached to the bus
func (c *Controller) Running() bool {
	state := disableInterrupts()
	r := c.running
	restoreInterrupts(state)
	return r
}

// Timing returns the active bit timing
func (c *Controller) Timing() Timing {
	state := disableInterrupts()
	t := c.timing
	restoreInterrupts(state)
	return t
}

// TicksToSample returns the quanta left until the next sample point, so a
// scheduler can sleep until then when the bus is quiet
func (c *Controller) TicksToSample() uint8 {
	state := disableInterrupts()
	n := c.timer.ticksToSample()
	restoreInterrupts(state)
	return n
}

// Transmit queues f in the transmit slot. It fails with ErrSlotBusy while a
// previous frame is still pending. The frame is copied.
func (c *Controller) Transmit(f *protocol.Frame) error {
	if f == nil {
		return ErrInvalidFrame
	}
	var bits protocol.Bitstream
	if err := protocol.Encode(f, &bits); err != nil {
		return errors.Join(ErrInvalidFrame, err)
	}
	state := disableInterrupts()
	if c.tx.pending() {
		restoreInterrupts(state)
		return ErrSlotBusy
	}
	c.tx.load(f, &bits)
	restoreInterrupts(state)
	return nil
}

// CheckTransmit returns the number of free transmit slots (0 or 1)
func (c *Controller) CheckTransmit() int {
	state := disableInterrupts()
	busy := c.tx.pending()
	restoreInterrupts(state)
	if busy {
		return 0
	}
	return 1
}

// Statistics returns a snapshot of the counters
func (c *Controller) Statistics() Statistics {
	state := disableInterrupts()
	s := c.stats
	restoreInterrupts(state)
	return s
}

// Trace returns the recent bus events, oldest first
func (c *Controller) Trace() []TraceEvent {
	state := disableInterrupts()
	events := c.trace.snapshot(make([]TraceEvent, 0, TraceRingSize))
	restoreInterrupts(state)
	return events
}

// ClearTrace empties the trace ring
func (c *Controller) ClearTrace() {
	state := disableInterrupts()
	c.trace.clear()
	restoreInterrupts(state)
}

// HandleInterrupt drains all samples queued by the driver.
// Call this from the sampler interrupt handler.
func (c *Controller) HandleInterrupt() {
	if c.bits != nil {
		for {
			level, ok := c.bits.ReadBit()
			if !ok {
				return
			}
			c.HandleBit(level)
		}
	}
	for {
		level, tick, ok := c.driver.ReadSample()
		if !ok {
			return
		}
		c.HandleSample(level, tick)
	}
}

// HandleSample processes the RX level sampled at quantum tick. Quanta
// skipped since the previous sample are replayed at the previous level.
func (c *Controller) HandleSample(level protocol.Level, tick uint32) {
	state := disableInterrupts()
	if !c.running {
		restoreInterrupts(state)
		return
	}
	n := uint32(1)
	if c.haveTick {
		n = tick - c.lastTick
	}
	c.haveTick = true
	c.lastTick = tick
	hold := c.timer.last
	restoreInterrupts(state)

	if n == 0 {
		return
	}
	if n > maxCatchUp {
		n = maxCatchUp
	}
	for ; n > 1; n-- {
		c.advance(hold)
	}
	c.advance(level)
}

// Sample processes one quantum following the previous one
func (c *Controller) Sample(level protocol.Level) {
	state := disableInterrupts()
	tick := c.lastTick + 1
	restoreInterrupts(state)
	c.HandleSample(level, tick)
}

// advance runs one quantum and delivers any resulting notifications
func (c *Controller) advance(level protocol.Level) {
	state := disableInterrupts()
	if !c.running {
		restoreInterrupts(state)
		return
	}
	c.step(level)
	sink, n, gen := c.handoff()
	restoreInterrupts(state)
	c.deliver(sink, n, gen)
}

// HandleBit processes one bit sampled by a BitDriver. The level for the next
// bit is passed to the driver's SetTx before HandleBit returns.
func (c *Controller) HandleBit(level protocol.Level) {
	state := disableInterrupts()
	if !c.running {
		restoreInterrupts(state)
		return
	}
	c.onBit(level)
	c.beginBit()
	sink, n, gen := c.handoff()
	restoreInterrupts(state)
	c.deliver(sink, n, gen)
}

// handoff moves queued notifications to the dispatch buffers.
// Called with interrupts disabled.
func (c *Controller) handoff() (NotifyHandler, int, uint32) {
	n := c.queued
	for i := 0; i < n; i++ {
		c.dispatch[i] = c.queue[i]
		if c.queue[i].Frame != nil {
			c.dframes[i] = c.frames[i]
			c.dispatch[i].Frame = &c.dframes[i]
		}
	}
	c.queued = 0
	return c.sink, n, c.gen
}

func (c *Controller) deliver(sink NotifyHandler, n int, gen uint32) {
	if sink == nil {
		return
	}
	for i := 0; i < n; i++ {
		// A sink may stop the controller; nothing is delivered after that
		if !c.current(gen) {
			return
		}
		sink.Notify(&c.dispatch[i])
	}
}

// current reports whether the controller is still running in the
// generation gen
func (c *Controller) current(gen uint32) bool {
	state := disableInterrupts()
	ok := c.running && c.gen == gen
	restoreInterrupts(state)
	return ok
}

func (c *Controller) step(level protocol.Level) {
	res := c.timer.step(level, !c.rx.inFrame(), c.out == protocol.Dominant)
	if res&tickSample != 0 {
		c.onBit(level)
	}
	if res&tickBitStart != 0 {
		c.beginBit()
	}
}

// onBit handles the bus value taken at the sample point
func (c *Controller) onBit(bit protocol.Level) {
	c.bitCount++
	wasSync := c.rx.state == rxSync
	wasActive := c.tx.active()
	rres := c.rx.feed(bit)
	if wasSync && c.rx.idle() {
		c.record(EvtBusReady, 0)
	}

	if wasActive {
		switch c.tx.check(bit) {
		case txLost:
			c.stats.ArbitrationLosses++
			c.record(EvtArbLost, uint32(c.tx.pos))
			c.tx.backoff()
		case txBitError:
			c.protocolError(ErrorBit)
			return
		case txAckError:
			c.protocolError(ErrorAck)
			return
		case txDone:
			c.stats.TxFrames++
			c.record(EvtTxFrame, c.tx.frame.ID)
			c.post(NotifyTX, &c.tx.frame, ErrorNone)
			c.tx.release()
			return
		}
	}

	switch rres {
	case rxStarted:
		c.record(EvtSOF, 0)
		if c.tx.pending() && !c.tx.active() {
			// Someone else started first, contend from the bit after SOF
			c.startTx(1)
		}
	case rxAckNext:
		if !wasActive {
			c.ackNext = true
		}
	case rxComplete:
		c.stats.RxFrames++
		c.record(EvtRxFrame, c.rx.frame.ID)
		c.post(NotifyRX, &c.rx.frame, ErrorNone)
	case rxFailed:
		c.protocolError(c.rx.err)
	}
}

// beginBit decides what to drive for the bit that starts with the next quantum
func (c *Controller) beginBit() {
	out := protocol.Recessive
	switch {
	case c.flagBits > 0:
		out = protocol.Dominant
		c.flagBits--
	case c.tx.active():
		out = c.tx.output()
	case c.ackNext:
		out = protocol.Dominant
	case c.tx.pending() && c.rx.idle():
		c.startTx(0)
		out = c.tx.output()
	}
	c.ackNext = false
	// A bit driver holds each level for one bit only
	if out != c.out || c.bits != nil {
		c.out = out
		c.driver.SetTx(out)
	}
}

func (c *Controller) startTx(pos int) {
	if c.tx.begin(pos) {
		c.stats.TxRetries++
	}
	c.record(EvtTxStart, uint32(pos))
}

// protocolError signals an active error flag and schedules a retry of the
// frame being transmitted, if any
func (c *Controller) protocolError(kind ErrorKind) {
	c.stats.countError(kind)
	c.record(EvtError, uint32(kind))
	if c.rx.state != rxError {
		c.rx.abort()
	}
	c.flagBits = protocol.ErrorFlagBits
	c.ackNext = false
	c.post(NotifyError, nil, kind)

	if !c.tx.active() {
		return
	}
	c.tx.failures++
	if c.maxRetries != 0 && c.tx.failures > c.maxRetries {
		c.record(EvtExhaust, c.tx.frame.ID)
		c.post(NotifyError, &c.tx.frame, ErrorRetriesExhausted)
		c.tx.release()
		return
	}
	c.tx.backoff()
}

func (c *Controller) post(kind NotifyKind, f *protocol.Frame, kindErr ErrorKind) {
	if c.queued == notifyQueueLen {
		return
	}
	i := c.queued
	c.queue[i] = Notification{Kind: kind, Error: kindErr}
	if f != nil {
		c.frames[i] = *f
		c.queue[i].Frame = &c.frames[i]
	}
	c.queued++
}

func (c *Controller) record(kind uint8, value uint32) {
	c.trace.record(kind, c.rx.state, c.bitCount, value)
}
