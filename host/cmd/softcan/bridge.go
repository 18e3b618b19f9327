package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"softcan/core"
	"softcan/host/socketcan"
)

func newBridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Forward frames between the SLCAN bridge and a SocketCAN interface",
		Long: `Frames received by the bridge are written to the SocketCAN interface and
frames read from the interface are transmitted on the bus. Linux only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			iface := s.cfg.SocketCAN
			if cmd.Flags().Changed("iface") || iface == "" {
				iface, _ = cmd.Flags().GetString("iface")
			}
			conn, err := socketcan.Dial(iface)
			if err != nil {
				return fmt.Errorf("socketcan %s: %w", iface, err)
			}
			defer conn.Close()
			if err := conn.SetReadTimeout(100 * time.Millisecond); err != nil {
				return err
			}

			if err := s.open(cmd.Context()); err != nil {
				return err
			}
			s.log.Info("bridging", "iface", iface, "bitrate", s.cfg.Bus.Bitrate)
			return forward(cmd.Context(), s, conn)
		},
	}
	cmd.Flags().StringP("iface", "i", "can0", "SocketCAN interface (overrides the configuration)")
	return cmd
}

// forward copies frames both ways until ctx ends or either side fails
func forward(ctx context.Context, s *session, conn *socketcan.Conn) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-s.client.Messages():
				if !ok {
					return nil
				}
				if msg.Error != core.ErrorNone {
					s.log.Warn("bus error", "kind", msg.Error.String())
					continue
				}
				if err := conn.Send(&msg.Frame); err != nil {
					return fmt.Errorf("socketcan send: %w", err)
				}
			}
		}
	})

	g.Go(func() error {
		for ctx.Err() == nil {
			f, err := conn.Receive()
			switch {
			case errors.Is(err, socketcan.ErrTimeout), errors.Is(err, socketcan.ErrErrorFrame):
				continue
			case err != nil:
				return fmt.Errorf("socketcan receive: %w", err)
			}
			if err := sendFrame(ctx, s.client, &f); err != nil {
				s.log.Warn("frame dropped", "frame", f.String(), "err", err)
			}
		}
		return nil
	})

	return g.Wait()
}
