package slcan

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"softcan/core"
	"softcan/protocol"
	"softcan/sim"
)

// simBridge connects a Client to the SLCAN bridge of a simulated node
type simBridge struct {
	bus    *sim.Bus
	peer   *sim.Node
	port   *sim.Port
	client *Client
	cancel context.CancelFunc
	errc   chan error
	once   sync.Once
}

func newSimBridge(t *testing.T, schedule ...protocol.Frame) *simBridge {
	t.Helper()
	bus, err := sim.New(core.DefaultTiming(125000000, 500000))
	if err != nil {
		t.Fatalf("sim.New failed: %v", err)
	}
	peer, err := bus.AddNode("peer")
	if err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	gw, err := bus.AddNode("gw")
	if err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	for i, f := range schedule {
		if err := peer.Schedule(uint64(2000+200*i), f); err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
	}

	s := &simBridge{bus: bus, peer: peer, errc: make(chan error, 1)}
	s.port = bus.Serve(gw, 20, time.Millisecond)
	s.client = NewClient(s.port, WithTimeout(5*time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() { s.errc <- s.client.Run(ctx) }()
	t.Cleanup(func() { s.stop(t) })
	return s
}

// stop ends the client and the bus goroutine; the bus may be inspected after
func (s *simBridge) stop(t *testing.T) {
	s.once.Do(func() {
		s.cancel()
		s.port.Close()
		if err := <-s.errc; err != nil {
			t.Errorf("Run failed: %v", err)
		}
	})
}

func TestClientCommands(t *testing.T) {
	s := newSimBridge(t)
	ctx := context.Background()
	c := s.client

	v, err := c.Version(ctx)
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if v != protocol.Version {
		t.Errorf("Expected version %s, got %s", protocol.Version, v)
	}
	if flags, err := c.Status(ctx); err != nil || flags != 0 {
		t.Errorf("Expected idle status, got 0x%02X (%v)", flags, err)
	}
	if err := c.Open(ctx, 123456); !errors.Is(err, ErrBadBitrate) {
		t.Errorf("Expected ErrBadBitrate, got %v", err)
	}
	if err := c.Open(ctx, 500000); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if flags, err := c.Status(ctx); err != nil || flags&core.StatusRunning == 0 {
		t.Errorf("Expected running status, got 0x%02X (%v)", flags, err)
	}
	if err := c.Open(ctx, 500000); !errors.Is(err, ErrRejected) {
		t.Errorf("Expected second Open to be rejected, got %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestClientReceivesFrames(t *testing.T) {
	f := protocol.Frame{ID: 0x123, DLC: 2, Data: [8]byte{0xAA, 0xBB}}
	s := newSimBridge(t, f)
	ctx := context.Background()

	if err := s.client.SetTimestamps(ctx, true); err != nil {
		t.Fatalf("SetTimestamps failed: %v", err)
	}
	if err := s.client.Open(ctx, 500000); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	select {
	case msg := <-s.client.Messages():
		if msg.Error != core.ErrorNone || !msg.Frame.Equal(&f) {
			t.Errorf("Expected frame %s, got %+v", f, msg)
		}
		if !msg.HasTimestamp {
			t.Errorf("Expected a timestamp")
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("No frame received")
	}
}

func TestClientSend(t *testing.T) {
	s := newSimBridge(t)
	ctx := context.Background()
	c := s.client

	f := protocol.Frame{ID: protocol.ExtendedID(0x1234567), DLC: 3, Data: [8]byte{1, 2, 3}}
	if err := c.Send(ctx, &f); !errors.Is(err, ErrRejected) {
		t.Errorf("Expected Send on a closed channel to be rejected, got %v", err)
	}
	bad := protocol.Frame{ID: 0x10, DLC: 9}
	if err := c.Send(ctx, &bad); !errors.Is(err, protocol.ErrInvalidDLC) {
		t.Errorf("Expected ErrInvalidDLC, got %v", err)
	}

	if err := c.Open(ctx, 500000); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := c.Send(ctx, &f); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		st, err := c.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if st.TxFrames == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Frame was never acknowledged, stats %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.stop(t)
	if s.peer.Count(core.NotifyRX) != 1 {
		t.Fatalf("Expected the peer to receive one frame, got %+v", s.peer.Events())
	}
	if got := s.peer.Events()[0].Frame; !got.Equal(&f) {
		t.Errorf("Expected %s, got %s", f, got)
	}
}

// scriptPort replays canned bridge output and swallows commands
type scriptPort struct {
	r       io.Reader
	written bytes.Buffer
}

func (p *scriptPort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *scriptPort) Write(b []byte) (int, error) { return p.written.Write(b) }

func TestClientParsesUnsolicitedLines(t *testing.T) {
	port := &scriptPort{r: bytes.NewReader([]byte("E4\rt1232AABB\rxyz\r\nT1ABCDEF00\rt12\r"))}
	c := NewClient(port)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var got []Message
	for msg := range c.Messages() {
		got = append(got, msg)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 messages, got %+v", got)
	}
	if got[0].Error != core.ErrorAck {
		t.Errorf("Expected ACK error, got %+v", got[0])
	}
	want := protocol.Frame{ID: 0x123, DLC: 2, Data: [8]byte{0xAA, 0xBB}}
	if !got[1].Frame.Equal(&want) || got[1].HasTimestamp {
		t.Errorf("Expected %s, got %+v", want, got[1])
	}
	ext := protocol.Frame{ID: protocol.ExtendedID(0x1ABCDEF0), DLC: 0}
	if !got[2].Frame.Equal(&ext) {
		t.Errorf("Expected %s, got %s", ext, got[2].Frame)
	}
}

func TestClientParseTimestamp(t *testing.T) {
	c := NewClient(&scriptPort{r: bytes.NewReader(nil)})
	msg, err := c.parseFrame("t1232AABB04D2")
	if err != nil {
		t.Fatalf("parseFrame failed: %v", err)
	}
	if !msg.HasTimestamp || msg.Timestamp != 1234 {
		t.Errorf("Expected timestamp 1234, got %+v", msg)
	}
	if _, err := c.parseFrame("t1232AABBEA60"); err == nil {
		t.Errorf("Expected timestamp 60000 to be rejected")
	}
}

func TestClientCommandTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	port := &pipePort{r: pr}
	c := NewClient(port, WithTimeout(20*time.Millisecond))
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	if _, err := c.Version(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}

	pw.Close()
	if err := <-errc; err != nil {
		t.Errorf("Expected clean end of stream, got %v", err)
	}
	if _, err := c.Version(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Run returned, got %v", err)
	}
}

// pipePort blocks reads until the writer side is closed
type pipePort struct {
	r io.Reader
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return len(b), nil }
