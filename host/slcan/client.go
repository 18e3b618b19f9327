// Package slcan talks to the softcan bridge firmware over its SLCAN line
// protocol.
package slcan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"softcan/core"
	"softcan/protocol"
)

var (
	ErrRejected   = errors.New("slcan: command rejected")
	ErrClosed     = errors.New("slcan: client closed")
	ErrBadReply   = errors.New("slcan: unexpected reply")
	ErrBadBitrate = errors.New("slcan: unsupported bitrate")
	ErrRunning    = errors.New("slcan: already running")
)

const defaultTimeout = time.Second

// Message is a frame or an error report received from the bridge
type Message struct {
	Frame        protocol.Frame
	Error        core.ErrorKind // ErrorNone for frames
	Timestamp    uint16         // milliseconds, 0..59999, when enabled
	HasTimestamp bool
}

// Stats is the reply to the Q command
type Stats struct {
	RxFrames          uint32
	TxFrames          uint32
	ParseErrors       uint32
	ArbitrationLosses uint32
	TxRetries         uint32
}

type reply struct {
	line string
	err  error
}

// Client serializes commands to the bridge and routes everything the
// bridge sends back. Run must be active while commands are issued.
type Client struct {
	rw  io.ReadWriter
	log *slog.Logger

	cmdMu    sync.Mutex
	replies  chan reply
	messages chan Message
	timeout  time.Duration

	stateMu sync.Mutex
	running bool
	done    chan struct{}
	dropped uint64
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger for traffic and dropped lines
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithTimeout bounds how long a command waits for its reply
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithBuffer sets how many received messages may queue before new ones
// are dropped
func WithBuffer(n int) Option {
	return func(c *Client) {
		c.messages = make(chan Message, n)
	}
}

// NewClient wraps a serial port (or any stream) connected to the bridge
func NewClient(rw io.ReadWriter, opts ...Option) *Client {
	c := &Client{
		rw:       rw,
		log:      slog.New(slog.DiscardHandler),
		replies:  make(chan reply, 4),
		messages: make(chan Message, 64),
		timeout:  defaultTimeout,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Messages delivers received frames and bus error reports. The channel is
// closed when Run returns.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Dropped returns how many messages were discarded because nobody read them
func (c *Client) Dropped() uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.dropped
}

// Run reads from the bridge until ctx is cancelled or the stream ends.
// A blocking stream must also be closed for Run to return after cancel.
func (c *Client) Run(ctx context.Context) error {
	c.stateMu.Lock()
	if c.running {
		c.stateMu.Unlock()
		return ErrRunning
	}
	c.running = true
	c.stateMu.Unlock()
	defer close(c.done)
	defer close(c.messages)

	chunks := make(chan []byte, 16)
	errg, gctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		defer close(chunks)
		return c.readLoop(gctx, chunks)
	})
	errg.Go(func() error {
		c.parseLoop(gctx, chunks)
		return nil
	})
	err := errg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) readLoop(ctx context.Context, chunks chan<- []byte) error {
	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := c.rw.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read from bridge: %w", err)
		}
	}
	return nil
}

func (c *Client) parseLoop(ctx context.Context, chunks <-chan []byte) {
	line := make([]byte, 0, 64)
	for {
		var chunk []byte
		var ok bool
		select {
		case chunk, ok = <-chunks:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}
		for _, b := range chunk {
			switch b {
			case protocol.SlcanErr:
				c.deliverReply(ctx, reply{err: ErrRejected})
			case protocol.SlcanEnd:
				c.handleLine(ctx, string(line))
				line = line[:0]
			case '\n':
			default:
				line = append(line, b)
			}
		}
	}
}

func (c *Client) handleLine(ctx context.Context, line string) {
	c.log.Debug("slcan rx", "line", line)
	if line == "" {
		c.deliverReply(ctx, reply{})
		return
	}
	switch line[0] {
	case 't', 'T', 'r', 'R':
		msg, err := c.parseFrame(line)
		if err != nil {
			c.log.Warn("bad frame line", "line", line, "err", err)
			return
		}
		c.deliver(ctx, msg)
	case 'E':
		l, err := protocol.ParseSlcan([]byte(line))
		if err != nil {
			c.log.Warn("bad error line", "line", line, "err", err)
			return
		}
		c.deliver(ctx, Message{Error: core.ErrorKind(l.Code)})
	case 'V', 'F', 'Q':
		c.deliverReply(ctx, reply{line: line})
	default:
		c.log.Warn("unknown line", "line", line)
	}
}

// parseFrame decodes a frame line with an optional 4 digit timestamp
func (c *Client) parseFrame(line string) (Message, error) {
	var msg Message
	raw := []byte(line)
	f, err := protocol.ParseSlcanFrame(raw)
	if err == nil {
		msg.Frame = f
		return msg, nil
	}
	if len(raw) < 5 {
		return msg, err
	}
	ts, perr := strconv.ParseUint(line[len(line)-4:], 16, 16)
	if perr != nil || ts >= 60000 {
		return msg, err
	}
	f, err = protocol.ParseSlcanFrame(raw[:len(raw)-4])
	if err != nil {
		return msg, err
	}
	msg.Frame = f
	msg.Timestamp = uint16(ts)
	msg.HasTimestamp = true
	return msg, nil
}

func (c *Client) deliver(ctx context.Context, msg Message) {
	select {
	case c.messages <- msg:
	case <-ctx.Done():
	default:
		c.stateMu.Lock()
		c.dropped++
		c.stateMu.Unlock()
	}
}

func (c *Client) deliverReply(ctx context.Context, r reply) {
	select {
	case c.replies <- r:
	case <-ctx.Done():
	default:
		c.log.Warn("unsolicited reply", "line", r.line, "err", r.err)
	}
}

// command sends one line and waits for its reply
func (c *Client) command(ctx context.Context, cmd string) (string, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	// Replies left over from a timed out command belong to nobody
	for {
		select {
		case <-c.replies:
			continue
		default:
		}
		break
	}

	c.log.Debug("slcan tx", "line", cmd)
	if _, err := c.rw.Write([]byte(cmd + "\r")); err != nil {
		return "", fmt.Errorf("failed to write to bridge: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case r := <-c.replies:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", ErrClosed
	case <-timer.C:
		return "", fmt.Errorf("slcan: %q: %w", cmd, context.DeadlineExceeded)
	}
}

// Open selects the bitrate and joins the bus
func (c *Client) Open(ctx context.Context, bitrate uint32) error {
	code, ok := protocol.BitrateCode(bitrate)
	if !ok {
		return fmt.Errorf("%w: %d", ErrBadBitrate, bitrate)
	}
	if _, err := c.command(ctx, "S"+string(code)); err != nil {
		return fmt.Errorf("set bitrate: %w", err)
	}
	if _, err := c.command(ctx, "O"); err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	return nil
}

// Close leaves the bus
func (c *Client) Close(ctx context.Context) error {
	_, err := c.command(ctx, "C")
	return err
}

// Send queues a frame in the bridge's transmit slot
func (c *Client) Send(ctx context.Context, f *protocol.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	line := protocol.AppendSlcanFrame(nil, f)
	_, err := c.command(ctx, string(line[:len(line)-1]))
	return err
}

// SetTimestamps enables millisecond timestamps on received frames
func (c *Client) SetTimestamps(ctx context.Context, on bool) error {
	cmd := "Z0"
	if on {
		cmd = "Z1"
	}
	_, err := c.command(ctx, cmd)
	return err
}

// Version returns the firmware version
func (c *Client) Version(ctx context.Context) (string, error) {
	line, err := c.command(ctx, "V")
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(line, "V") {
		return "", fmt.Errorf("%w: %q", ErrBadReply, line)
	}
	return line[1:], nil
}

// Status returns the F flags (core.StatusTxBusy and friends)
func (c *Client) Status(ctx context.Context) (uint8, error) {
	line, err := c.command(ctx, "F")
	if err != nil {
		return 0, err
	}
	if len(line) != 3 || line[0] != 'F' {
		return 0, fmt.Errorf("%w: %q", ErrBadReply, line)
	}
	v, err := strconv.ParseUint(line[1:], 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadReply, line)
	}
	return uint8(v), nil
}

// Stats returns the bridge controller counters
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	line, err := c.command(ctx, "Q")
	if err != nil {
		return s, err
	}
	fields := strings.Split(strings.TrimPrefix(line, "Q"), ",")
	if !strings.HasPrefix(line, "Q") || len(fields) != 5 {
		return s, fmt.Errorf("%w: %q", ErrBadReply, line)
	}
	dst := []*uint32{&s.RxFrames, &s.TxFrames, &s.ParseErrors, &s.ArbitrationLosses, &s.TxRetries}
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return s, fmt.Errorf("%w: %q", ErrBadReply, line)
		}
		*dst[i] = uint32(v)
	}
	return s, nil
}
