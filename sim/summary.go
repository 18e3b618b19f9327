package sim

import (
	"math"

	"gonum.org/v1/gonum/graph/multi"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/stat"

	"softcan/core"
	"softcan/protocol"
)

// Summary aggregates a simulation run
type Summary struct {
	Bits              uint64
	Transmitted       int // TX notifications
	Received          int // RX notifications over all nodes
	Errors            int // ERROR notifications over all nodes
	ArbitrationLosses uint32
	MeanFrameBits     float64 // stuffed length of transmitted frames, SOF to EOF
	StdFrameBits      float64
	Load              float64 // share of bit times the bus was busy
}

// Summary computes statistics over everything simulated so far
func (b *Bus) Summary() Summary {
	s := Summary{Bits: b.Bit()}
	var lengths []float64
	for i := range b.events {
		ev := &b.events[i]
		switch ev.Kind {
		case core.NotifyTX:
			s.Transmitted++
			var bs protocol.Bitstream
			if protocol.Encode(&ev.Frame, &bs) == nil {
				lengths = append(lengths, float64(bs.Len()))
			}
		case core.NotifyRX:
			s.Received++
		case core.NotifyError:
			s.Errors++
		}
	}
	for _, n := range b.nodes {
		s.ArbitrationLosses += n.ctrl.Statistics().ArbitrationLosses
	}
	if len(lengths) > 0 {
		s.MeanFrameBits, s.StdFrameBits = stat.MeanStdDev(lengths, nil)
		if math.IsNaN(s.StdFrameBits) {
			s.StdFrameBits = 0
		}
	}
	if s.Bits > 0 {
		s.Load = 1 - float64(b.idle)/float64(s.Bits)
	}
	return s
}

// frameNode is an identifier in the arbitration graph
type frameNode int64

func (n frameNode) ID() int64 {
	return int64(n)
}

// contest is one observed arbitration outcome
type contest struct {
	winner, loser uint32
}

// ArbitrationOrder returns the frame identifiers (with format flags) that
// took part in arbitration, ordered from the highest priority observed to the
// lowest. It fails if the observed outcomes contradict each other.
func (b *Bus) ArbitrationOrder() ([]uint32, error) {
	g := multi.NewDirectedGraph()
	for _, c := range b.contests {
		g.SetLine(g.NewLine(frameNode(c.winner), frameNode(c.loser)))
	}
	sorted, err := topo.Sort(g)
	if err != nil {
		return nil, err
	}
	order := make([]uint32, len(sorted))
	for i, node := range sorted {
		order[i] = uint32(node.(frameNode))
	}
	return order, nil
}
