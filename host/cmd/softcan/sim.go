package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"softcan/config"
	"softcan/core"
	"softcan/protocol"
	"softcan/sim"
)

func newSimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run the scripted bus simulation from the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if bits, _ := cmd.Flags().GetInt("bits"); bits > 0 {
				cfg.Sim.Bits = bits
			}
			bus, err := newSimulation(cfg, newLogger(cmd))
			if err != nil {
				return err
			}
			bus.Run(cfg.Sim.Bits)

			quiet, _ := cmd.Flags().GetBool("quiet")
			return printSimulation(cmd.OutOrStdout(), bus, !quiet)
		},
	}
	cmd.Flags().Int("bits", 0, "bit times to simulate (overrides the configuration)")
	cmd.Flags().BoolP("quiet", "q", false, "print only the summary")
	return cmd
}

// newSimulation builds the configured nodes, their scheduled frames and
// the injected disturbances
func newSimulation(cfg *config.Config, log *slog.Logger) (*sim.Bus, error) {
	bus, err := sim.New(cfg.Bus.Timing(), sim.WithLogger(log))
	if err != nil {
		return nil, err
	}
	for _, nc := range cfg.Sim.Nodes {
		retries := nc.MaxRetries
		if retries == 0 {
			retries = cfg.Bus.MaxRetries
		}
		n, err := bus.AddNode(nc.Name,
			sim.WithChannel(cfg.Bus.Channel),
			sim.WithPins(core.Pin(cfg.Bus.RxPin), core.Pin(cfg.Bus.TxPin)),
			sim.WithOffset(nc.Offset),
			sim.WithSkew(nc.Skew),
			sim.WithMaxRetries(retries),
		)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", nc.Name, err)
		}
		for _, fc := range nc.Frames {
			f, err := fc.Parse()
			if err != nil {
				return nil, fmt.Errorf("node %s frame %q: %w", nc.Name, fc.Frame, err)
			}
			if err := n.Schedule(fc.AtBit, f); err != nil {
				return nil, fmt.Errorf("node %s frame %q: %w", nc.Name, fc.Frame, err)
			}
		}
	}
	for _, inj := range cfg.Sim.Inject {
		bits, err := config.ParseBits(inj.Bits)
		if err != nil {
			return nil, fmt.Errorf("inject at bit %d: %w", inj.AtBit, err)
		}
		bus.InjectAt(inj.AtBit, bits)
	}
	return bus, nil
}

// printSimulation writes the event log, the summary and the arbitration order
func printSimulation(w io.Writer, bus *sim.Bus, events bool) error {
	if events {
		for _, ev := range bus.Events() {
			fmt.Fprintln(w, formatEvent(ev))
		}
	}

	s := bus.Summary()
	fmt.Fprintf(w, "bits %d, transmitted %d, received %d, errors %d, arbitration losses %d\n",
		s.Bits, s.Transmitted, s.Received, s.Errors, s.ArbitrationLosses)
	if s.Transmitted > 0 {
		fmt.Fprintf(w, "frame length %.1f ± %.1f bits, load %.1f%%\n",
			s.MeanFrameBits, s.StdFrameBits, s.Load*100)
	}

	order, err := bus.ArbitrationOrder()
	if err != nil {
		return fmt.Errorf("arbitration order: %w", err)
	}
	if len(order) > 0 {
		ids := make([]string, len(order))
		for i, id := range order {
			f := protocol.Frame{ID: id}
			ids[i] = fmt.Sprintf("%X", f.Identifier())
		}
		fmt.Fprintf(w, "arbitration order %s\n", strings.Join(ids, " > "))
	}
	return nil
}
