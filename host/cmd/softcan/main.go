package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup interrupt handler for ctrl-c
	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt)
	go func() {
		s := <-quitChan
		slog.Info("exiting", "signal", s.String())
		cancel()
		// Failsafe if shutdown deadlocks
		<-time.After(10 * time.Second)
		slog.Error("took too long to shut down, forcefully exiting")
		os.Exit(1)
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
