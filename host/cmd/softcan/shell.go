package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"softcan/protocol"
)

const shellHelp = `Commands:
  open [bitrate]        join the bus (default: configured bitrate)
  close                 leave the bus
  send FRAME...         transmit frames, e.g. send 123#AABB 7E0#R8
  status                show the bridge status flags
  stats                 show the bridge counters
  version               show the firmware version
  timestamps on|off     append timestamps to received frames
  help                  show this help
  quit                  exit`

// lockedWriter serializes the prompt, replies and received frames
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive bridge shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd)
			if err != nil {
				return err
			}
			out := &lockedWriter{w: cmd.OutOrStdout()}

			printed := make(chan struct{})
			go func() {
				defer close(printed)
				for msg := range s.client.Messages() {
					fmt.Fprintln(out, formatMessage(msg))
				}
			}()
			defer func() {
				s.Close()
				<-printed
			}()

			fmt.Fprintln(out, "softcan shell, type 'help' for commands")
			ctx := cmd.Context()
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				words, err := shlex.Split(scanner.Text())
				if err != nil {
					fmt.Fprintln(out, red("%v", err))
					continue
				}
				quit, err := execShell(ctx, s, words, out)
				if err != nil {
					fmt.Fprintln(out, red("%v", err))
				}
				if quit || ctx.Err() != nil {
					return nil
				}
			}
		},
	}
}

// execShell runs one shell command. It reports whether the shell should exit.
func execShell(ctx context.Context, s *session, args []string, out io.Writer) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	c := s.client
	switch cmd := strings.ToLower(args[0]); cmd {
	case "help", "?":
		fmt.Fprintln(out, shellHelp)

	case "quit", "exit":
		return true, nil

	case "open":
		bitrate := s.cfg.Bus.Bitrate
		if len(args) > 1 {
			v, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return false, fmt.Errorf("bad bitrate %q", args[1])
			}
			bitrate = uint32(v)
		}
		if err := c.Open(ctx, bitrate); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "open at %d bit/s\n", bitrate)

	case "close":
		if err := c.Close(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "closed")

	case "send":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: send FRAME...")
		}
		for _, a := range args[1:] {
			f, err := protocol.ParseFrame(a)
			if err != nil {
				return false, fmt.Errorf("%q: %w", a, err)
			}
			if err := sendFrame(ctx, c, &f); err != nil {
				return false, fmt.Errorf("send %s: %w", f, err)
			}
			fmt.Fprintln(out, cyan("queued %s", formatFrame(&f)))
		}

	case "status":
		flags, err := c.Status(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "status %s\n", formatStatus(flags))

	case "stats":
		st, err := c.Stats(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, formatStats(st))

	case "version":
		v, err := c.Version(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "version %s\n", v)

	case "timestamps":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			return false, fmt.Errorf("usage: timestamps on|off")
		}
		if err := c.SetTimestamps(ctx, args[1] == "on"); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "timestamps %s\n", args[1])

	default:
		return false, fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
	return false, nil
}
