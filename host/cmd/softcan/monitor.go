package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print the frames and bus errors seen by the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			timestamps, _ := cmd.Flags().GetBool("timestamps")
			if err := s.client.SetTimestamps(ctx, timestamps); err != nil {
				return err
			}
			if err := s.open(ctx); err != nil {
				return err
			}
			s.log.Info("monitoring", "bitrate", s.cfg.Bus.Bitrate)

			count, _ := cmd.Flags().GetInt("count")
			out := cmd.OutOrStdout()
			for seen := 0; count == 0 || seen < count; seen++ {
				select {
				case <-ctx.Done():
					return nil
				case msg, ok := <-s.client.Messages():
					if !ok {
						return nil
					}
					fmt.Fprintln(out, formatMessage(msg))
				}
			}
			if dropped := s.client.Dropped(); dropped > 0 {
				s.log.Warn("messages dropped", "count", dropped)
			}
			return nil
		},
	}
	cmd.Flags().BoolP("timestamps", "t", false, "ask the bridge for millisecond timestamps")
	cmd.Flags().IntP("count", "n", 0, "exit after this many messages")
	return cmd
}
