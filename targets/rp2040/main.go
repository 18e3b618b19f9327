//go:build rp2040

// Command rp2040 is the softcan firmware: a software CAN controller on a PIO
// state machine, exposed to the host as an SLCAN adapter over USB CDC.
package main

import (
	"machine"
	"time"

	"softcan/core"
	"softcan/protocol"
	"softcan/targets/pio"
)

func main() {
	// Disable watchdog on boot to clear any previous state
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	cfg := GetBridgeConfig()

	// Register the PIO sampler before any controller is created
	pio.InitBus()

	ctrl, err := core.Setup(cfg.Channel)
	if err != nil {
		return
	}
	ctrl.SetMaxRetries(cfg.MaxRetries)

	// Bits arrive through the PIO interrupt from now on
	if err := pio.Attach(ctrl); err != nil {
		return
	}

	bridge := core.NewBridge(ctrl, machine.CPUFrequency(), cfg.RxPin, cfg.TxPin)
	bridge.SetClock(millisClock())

	link := newUSBLink(bridge)
	core.SetDebugWriter(link.debug)
	core.SetDebugEnabled(cfg.Debug)

	if code, ok := protocol.BitrateCode(cfg.Bitrate); ok {
		bridge.Input([]byte{'S', code, protocol.SlcanEnd})
	}
	if cfg.AutoOpen {
		bridge.Input([]byte{'O', protocol.SlcanEnd})
	}

	go link.readLoop()

	for {
		// A panic in the loop leaves the bus and keeps the firmware alive
		func() {
			defer func() {
				if r := recover(); r != nil {
					ctrl.Stop()
					bridge.Reset()
					core.DebugPrintln("main loop fault, channel closed")
				}
			}()

			bridge.Poll()
			link.write()
		}()

		// Yield to the reader goroutine. Bus bits never wait on this loop.
		time.Sleep(100 * time.Microsecond)
	}
}
