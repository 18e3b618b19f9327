package sim

import (
	"io"
	"sync"
	"time"

	"softcan/core"
)

// Port serves the SLCAN line protocol for one node, the way the bridge
// firmware does over USB. It implements io.ReadWriteCloser so host tools
// can talk to a simulated bus as if it were a serial device.
//
// After Serve the bus is driven by the port's goroutine; do not touch it
// until Close returns.
type Port struct {
	bus    *Bus
	node   *Node
	bridge *core.Bridge
	bits   int
	every  time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	out    []byte
	closed bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Serve takes the node off the bus and hands it to an SLCAN bridge. The bus
// then advances bits bit times every interval until Close. The channel stays
// closed until the client sends O, which uses the default quantum layout.
func (b *Bus) Serve(n *Node, bits int, every time.Duration) *Port {
	ctrl := n.Controller()
	ctrl.Stop()

	br := core.NewBridge(ctrl, b.timing.SysClock, n.rxPin, n.txPin)
	// Keep capturing events for the node as well as reporting them
	ctrl.SetNotificationSink(core.NotifyFunc(func(note *core.Notification) {
		n.Notify(note)
		br.Notify(note)
	}))
	br.SetClock(func() uint32 {
		return uint32(b.Bit() * 1000 / uint64(b.timing.Bitrate))
	})

	p := &Port{
		bus:    b,
		node:   n,
		bridge: br,
		bits:   bits,
		every:  every,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.pump()
	return p
}

// Bridge returns the bridge serving the node
func (p *Port) Bridge() *core.Bridge {
	return p.bridge
}

func (p *Port) pump() {
	defer close(p.done)
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()

	var buf []byte
	for {
		p.bridge.Poll()
		p.bus.Run(p.bits)
		buf = p.bridge.Drain(buf[:0])
		if len(buf) > 0 {
			p.mu.Lock()
			p.out = append(p.out, buf...)
			p.cond.Broadcast()
			p.mu.Unlock()
		}
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}
	}
}

// Read blocks until the bridge has output or the port is closed
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.out) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.out) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.out)
	p.out = p.out[n:]
	return n, nil
}

// Write hands command bytes to the bridge
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	n := p.bridge.Input(b)
	if n < len(b) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Flush drops output not read yet
func (p *Port) Flush() error {
	p.mu.Lock()
	p.out = p.out[:0]
	p.mu.Unlock()
	return nil
}

// Close stops the bus goroutine. Pending output can still be read.
func (p *Port) Close() error {
	p.once.Do(func() {
		close(p.stop)
		<-p.done
		p.mu.Lock()
		p.closed = true
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	return nil
}
