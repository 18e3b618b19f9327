//go:build rp2040

package main

import "softcan/core"

// BridgeConfig holds the compile-time wiring of the board
type BridgeConfig struct {
	Channel    uint8
	RxPin      core.Pin // transceiver RXD
	TxPin      core.Pin // transceiver TXD
	MaxRetries uint32   // 0 retries forever

	// Bitrate selected at boot. The PIO sampler refuses rates whose phase
	// segment 2 is shorter than its interrupt service budget.
	Bitrate uint32

	// AutoOpen joins the bus at Bitrate without waiting for O
	AutoOpen bool
	Debug    bool
}

// GetBridgeConfig returns the board configuration
// Change the pins here to match the transceiver wiring
func GetBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Channel:    0,
		RxPin:      4,
		TxPin:      5,
		MaxRetries: 16,
		Bitrate:    125000,
	}
}
