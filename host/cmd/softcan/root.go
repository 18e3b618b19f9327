package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"softcan/config"
	"softcan/host/serial"
	"softcan/host/slcan"
)

const (
	flagConfig  = "config"
	flagPort    = "port"
	flagBitrate = "bitrate"
	flagDebug   = "debug"
	flagSim     = "sim"
	flagNoColor = "no-color"
)

// newRootCmd builds the command tree
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "softcan",
		Short:        "Software CAN controller tools",
		Long:         `Simulate softcan controllers on a virtual bus, or talk to the RP2040 SLCAN bridge firmware.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor, _ := cmd.Flags().GetBool(flagNoColor); noColor {
				color.NoColor = true
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringP(flagConfig, "c", "", "JSON configuration file")
	pf.StringP(flagPort, "p", "", "bridge serial port (overrides the configuration)")
	pf.Uint32P(flagBitrate, "b", 0, "CAN bitrate (overrides the configuration)")
	pf.BoolP(flagDebug, "d", false, "debug logging")
	pf.Bool(flagSim, false, "talk to a simulated bridge instead of a serial port")
	pf.Bool(flagNoColor, false, "disable colored output")

	root.AddCommand(
		newSimCmd(),
		newMonitorCmd(),
		newSendCmd(),
		newBridgeCmd(),
		newShellCmd(),
	)
	return root
}

// loadConfig reads --config and applies flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString(flagConfig); path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed(flagPort) {
		cfg.Serial.Device, _ = cmd.Flags().GetString(flagPort)
	}
	if cmd.Flags().Changed(flagBitrate) {
		cfg.Bus.Bitrate, _ = cmd.Flags().GetUint32(flagBitrate)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newLogger returns a text logger on stderr, at debug level with --debug
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if debug, _ := cmd.Flags().GetBool(flagDebug); debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// session is an SLCAN client connected to a bridge
type session struct {
	cfg    *config.Config
	log    *slog.Logger
	port   io.ReadWriteCloser
	client *slcan.Client
	cancel context.CancelFunc
	errc   chan error
}

// connect opens the bridge named by the flags and starts the client
func connect(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := newLogger(cmd)

	port, err := openBridge(cmd, cfg, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	s := &session{
		cfg:    cfg,
		log:    log,
		port:   port,
		client: slcan.NewClient(port, slcan.WithLogger(log)),
		cancel: cancel,
		errc:   make(chan error, 1),
	}
	go func() { s.errc <- s.client.Run(ctx) }()
	return s, nil
}

// openBridge returns the serial port, or a simulated bridge with --sim
func openBridge(cmd *cobra.Command, cfg *config.Config, log *slog.Logger) (io.ReadWriteCloser, error) {
	if simulated, _ := cmd.Flags().GetBool(flagSim); simulated {
		bus, err := newSimulation(cfg, log)
		if err != nil {
			return nil, err
		}
		node, err := bus.AddNode(bridgeNodeName(cfg))
		if err != nil {
			return nil, err
		}
		log.Debug("simulated bridge", "node", node.Name, "nodes", len(bus.Nodes()))
		return bus.Serve(node, 20, time.Millisecond), nil
	}

	port, err := serial.OpenContext(cmd.Context(), &serial.Config{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
		OpenRetries: cfg.Serial.OpenRetries,
	}, func(n uint, err error) {
		log.Warn("open failed", "device", cfg.Serial.Device, "attempt", n+1, "err", err)
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// bridgeNodeName picks a node name not used by the configured simulation
func bridgeNodeName(cfg *config.Config) string {
	name := "bridge"
	for i := 1; ; i++ {
		taken := false
		for _, n := range cfg.Sim.Nodes {
			if n.Name == name {
				taken = true
				break
			}
		}
		if !taken {
			return name
		}
		name = fmt.Sprintf("bridge%d", i)
	}
}

// open joins the bus at the configured bitrate
func (s *session) open(ctx context.Context) error {
	return s.client.Open(ctx, s.cfg.Bus.Bitrate)
}

// Close leaves the bus, stops the client and closes the port
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.client.Close(ctx); err != nil {
		s.log.Debug("close channel", "err", err)
	}
	s.cancel()
	s.port.Close()
	return <-s.errc
}
