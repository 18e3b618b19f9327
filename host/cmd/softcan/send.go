package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/spf13/cobra"

	"softcan/host/slcan"
	"softcan/protocol"
)

// The bridge holds one pending frame and rejects a second with BEL
const (
	sendAttempts = 50
	sendDelay    = 2 * time.Millisecond
)

// sendFrame queues f, retrying while the bridge transmit slot is busy
func sendFrame(ctx context.Context, c *slcan.Client, f *protocol.Frame) error {
	return retry.Do(func() error {
		return c.Send(ctx, f)
	},
		retry.Context(ctx),
		retry.Attempts(sendAttempts),
		retry.Delay(sendDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, slcan.ErrRejected)
		}),
		retry.LastErrorOnly(true),
	)
}

// waitSent polls the bridge counters until tx reaches want
func waitSent(ctx context.Context, c *slcan.Client, want uint32, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		if st.TxFrames >= want {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for acknowledgement: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "send FRAME...",
		Short:   "Transmit frames through the bridge",
		Example: "  softcan send -p /dev/ttyACM0 123#AABB 1ABCDEF0#R4",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frames := make([]protocol.Frame, len(args))
			for i, a := range args {
				f, err := protocol.ParseFrame(a)
				if err != nil {
					return fmt.Errorf("%q: %w", a, err)
				}
				frames[i] = f
			}

			s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := s.open(ctx); err != nil {
				return err
			}
			before, err := s.client.Stats(ctx)
			if err != nil {
				return err
			}

			wait, _ := cmd.Flags().GetDuration("wait")
			out := cmd.OutOrStdout()
			for i := range frames {
				if err := sendFrame(ctx, s.client, &frames[i]); err != nil {
					return fmt.Errorf("send %s: %w", frames[i], err)
				}
				if wait > 0 {
					if err := waitSent(ctx, s.client, before.TxFrames+uint32(i)+1, wait); err != nil {
						return fmt.Errorf("send %s: %w", frames[i], err)
					}
				}
				fmt.Fprintln(out, cyan("sent %s", formatFrame(&frames[i])))
			}
			return nil
		},
	}
	cmd.Flags().Duration("wait", time.Second, "time to wait for each acknowledgement, 0 to not wait")
	return cmd
}
