package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"softcan/core"
	"softcan/host/slcan"
	"softcan/protocol"
	"softcan/sim"
)

var (
	cyan   = color.New(color.FgCyan).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
)

// formatFrame prints a frame candump style: "123 [2] AA BB"
func formatFrame(f *protocol.Frame) string {
	var b strings.Builder
	if f.IsExtended() {
		fmt.Fprintf(&b, "%08X", f.Identifier())
	} else {
		fmt.Fprintf(&b, "%03X", f.Identifier())
	}
	fmt.Fprintf(&b, " [%d]", f.DLC)
	if f.IsRemote() {
		b.WriteString(" remote request")
		return b.String()
	}
	for _, d := range f.Payload() {
		fmt.Fprintf(&b, " %02X", d)
	}
	return b.String()
}

// formatMessage prints one message received from the bridge
func formatMessage(msg slcan.Message) string {
	var prefix string
	if msg.HasTimestamp {
		prefix = yellow("%2d.%03d ", msg.Timestamp/1000, msg.Timestamp%1000)
	}
	if msg.Error != core.ErrorNone {
		return prefix + red("error %s", msg.Error)
	}
	return prefix + green("%s", formatFrame(&msg.Frame))
}

// formatEvent prints one simulation event
func formatEvent(ev sim.Event) string {
	head := fmt.Sprintf("%6d %-8s ", ev.Bit, ev.Node)
	switch ev.Kind {
	case core.NotifyRX:
		return head + green("rx    %s", formatFrame(&ev.Frame))
	case core.NotifyTX:
		return head + cyan("tx    %s", formatFrame(&ev.Frame))
	}
	if ev.HasFrame {
		return head + red("error %s while sending %s", ev.Error, formatFrame(&ev.Frame))
	}
	return head + red("error %s", ev.Error)
}

// formatStats prints the bridge counters
func formatStats(st slcan.Stats) string {
	return fmt.Sprintf("rx %d, tx %d, parse errors %d, arbitration losses %d, retries %d",
		st.RxFrames, st.TxFrames, st.ParseErrors, st.ArbitrationLosses, st.TxRetries)
}

// formatStatus names the F flags that are set
func formatStatus(flags uint8) string {
	names := []string{}
	if flags&core.StatusRunning != 0 {
		names = append(names, "running")
	} else {
		names = append(names, "closed")
	}
	if flags&core.StatusTxBusy != 0 {
		names = append(names, "tx busy")
	}
	if flags&core.StatusBusError != 0 {
		names = append(names, red("bus error"))
	}
	if flags&core.StatusOverrun != 0 {
		names = append(names, red("overrun"))
	}
	return fmt.Sprintf("%02X %s", flags, strings.Join(names, ", "))
}
