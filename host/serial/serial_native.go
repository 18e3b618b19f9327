//go:build !wasm

package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/avast/retry-go"
	"github.com/tarm/serial"
)

// ErrNilConfig is returned by Open without a configuration
var ErrNilConfig = errors.New("serial: config cannot be nil")

// retryDelay is the base delay between open attempts
var retryDelay = 200 * time.Millisecond

// NativePort wraps the tarm/serial implementation
type NativePort struct {
	port *serial.Port
	cfg  *Config
}

// Open opens a native serial port
func Open(cfg *Config) (Port, error) {
	return OpenContext(context.Background(), cfg, nil)
}

// OpenContext opens a native serial port, retrying up to cfg.OpenRetries
// times. onRetry, when set, is told about every failed attempt.
func OpenContext(ctx context.Context, cfg *Config, onRetry func(n uint, err error)) (Port, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	serialConfig := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	}

	attempts := cfg.OpenRetries
	if attempts == 0 {
		attempts = 1
	}

	var port *serial.Port
	err := retry.Do(func() error {
		p, err := serial.OpenPort(serialConfig)
		if err != nil {
			return err
		}
		port = p
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(retryDelay),
		retry.OnRetry(func(n uint, err error) {
			if onRetry != nil {
				onRetry(n, err)
			}
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	return &NativePort{
		port: port,
		cfg:  cfg,
	}, nil
}

// Read reads data from the serial port. An expired read timeout returns
// no data and no error.
func (p *NativePort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if err == io.EOF && p.cfg.ReadTimeout > 0 {
		return n, nil
	}
	return n, err
}

// Write writes data to the serial port
func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close closes the serial port
func (p *NativePort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Flush discards data received but not yet read
func (p *NativePort) Flush() error {
	return p.port.Flush()
}
