package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"softcan/core"
	"softcan/protocol"
)

// ErrBitSyntax is returned for injection strings with characters other than 0 and 1
var ErrBitSyntax = errors.New("config: bits must be 0 or 1")

// LoadConfig parses a JSON configuration and returns a Config with defaults applied
func LoadConfig(jsonData []byte) (*Config, error) {
	var config Config

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, err
	}

	// Apply defaults
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFile reads and parses a configuration file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(config *Config) {
	// RP2040 default system clock
	if config.Bus.SysClock == 0 {
		config.Bus.SysClock = 125000000
	}
	if config.Bus.Bitrate == 0 {
		config.Bus.Bitrate = 500000
	}
	if config.Bus.Quanta == 0 {
		config.Bus.Quanta = core.DefaultQuanta
	}
	if config.Bus.SamplePoint == 0 {
		config.Bus.SamplePoint = config.Bus.Quanta * 3 / 4
	}
	if config.Bus.SJW == 0 {
		config.Bus.SJW = config.Bus.Quanta - config.Bus.SamplePoint
		if config.Bus.SJW > core.DefaultSJW {
			config.Bus.SJW = core.DefaultSJW
		}
	}
	if config.Bus.RxPin == 0 && config.Bus.TxPin == 0 {
		config.Bus.RxPin = 4
		config.Bus.TxPin = 5
	}

	if config.Serial.Device == "" {
		config.Serial.Device = "/dev/ttyACM0"
	}
	if config.Serial.Baud == 0 {
		config.Serial.Baud = 115200
	}
	if config.Serial.ReadTimeout == 0 {
		config.Serial.ReadTimeout = 100
	}
	if config.Serial.OpenRetries == 0 {
		config.Serial.OpenRetries = 5
	}

	if config.SocketCAN == "" {
		config.SocketCAN = "can0"
	}

	if config.Sim.Bits == 0 {
		config.Sim.Bits = 2000
	}
	for i := range config.Sim.Nodes {
		if config.Sim.Nodes[i].Name == "" {
			config.Sim.Nodes[i].Name = fmt.Sprintf("node%d", i)
		}
	}
}

// Validate checks timing, frames and injection strings
func (c *Config) Validate() error {
	if err := c.Bus.Timing().Validate(); err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	if c.Bus.Channel >= core.NumChannels {
		return fmt.Errorf("bus: %w", core.ErrInvalidChannel)
	}
	for _, n := range c.Sim.Nodes {
		for _, f := range n.Frames {
			if _, err := f.Parse(); err != nil {
				return fmt.Errorf("node %s: frame %q: %w", n.Name, f.Frame, err)
			}
		}
	}
	for _, inj := range c.Sim.Inject {
		if _, err := ParseBits(inj.Bits); err != nil {
			return fmt.Errorf("inject at bit %d: %w", inj.AtBit, err)
		}
	}
	return nil
}

// Timing converts the bus settings to a controller timing
func (b BusConfig) Timing() core.Timing {
	return core.Timing{
		SysClock:    b.SysClock,
		Bitrate:     b.Bitrate,
		Quanta:      b.Quanta,
		SamplePoint: b.SamplePoint,
		SJW:         b.SJW,
	}
}

// Parse decodes the frame text
func (f FrameConfig) Parse() (protocol.Frame, error) {
	return protocol.ParseFrame(f.Frame)
}

// ParseBits converts a string of '0' and '1' to bus levels
func ParseBits(s string) ([]protocol.Level, error) {
	out := make([]protocol.Level, 0, len(s))
	for _, c := range s {
		switch c {
		case '0':
			out = append(out, protocol.Dominant)
		case '1':
			out = append(out, protocol.Recessive)
		case ' ', '_':
		default:
			return nil, ErrBitSyntax
		}
	}
	return out, nil
}

// DefaultConfig returns a configuration for a 500 kbit/s bus on an RP2040
// with a two node arbitration demo
func DefaultConfig() *Config {
	config := &Config{
		Bus: BusConfig{
			SysClock:    125000000,
			Bitrate:     500000,
			Quanta:      core.DefaultQuanta,
			SamplePoint: core.DefaultSamplePoint,
			SJW:         core.DefaultSJW,
			RxPin:       4,
			TxPin:       5,
		},
		Sim: SimConfig{
			Bits: 400,
			Nodes: []NodeConfig{
				{
					Name:   "ecu",
					Frames: []FrameConfig{{Frame: "123#AABB", AtBit: 20}},
				},
				{
					Name:   "sensor",
					Offset: 3,
					Skew:   100,
					Frames: []FrameConfig{{Frame: "0F0#0102030405060708", AtBit: 20}},
				},
				{
					Name: "logger",
				},
			},
		},
	}
	applyDefaults(config)
	return config
}
