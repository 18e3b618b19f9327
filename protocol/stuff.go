package protocol

import "errors"

// ErrStuff is returned when six identical bits appear inside the stuffed region
var ErrStuff = errors.New("protocol: bit stuffing violation")

// Stuffer inserts a complementary bit after every StuffRun identical bits.
type Stuffer struct {
	last Level
	run  uint8
}

// Reset prepares the stuffer for a new frame
func (s *Stuffer) Reset() {
	s.last = Recessive
	s.run = 0
}

// Push accepts one data bit and returns the bits to put on the wire:
// the bit itself and, when a run completes, the stuff bit.
func (s *Stuffer) Push(bit Level) (out [2]Level, n int) {
	out[0] = bit
	n = 1
	if s.run != 0 && bit == s.last {
		s.run++
	} else {
		s.last = bit
		s.run = 1
	}
	if s.run == StuffRun {
		out[1] = bit.Invert()
		n = 2
		s.last = out[1]
		s.run = 1
	}
	return out, n
}

// Destuffer removes stuff bits from a raw bit stream one bit at a time.
type Destuffer struct {
	last Level
	run  uint8
}

// Reset prepares the destuffer for a new frame
func (d *Destuffer) Reset() {
	d.last = Recessive
	d.run = 0
}

// StuffPending reports whether the next raw bit must be a stuff bit
func (d *Destuffer) StuffPending() bool {
	return d.run == StuffRun
}

// Next consumes one raw bit. It reports whether the bit carries data; a
// discarded stuff bit returns false. ErrStuff is returned when the bit that
// should have been a stuff bit repeats the run value.
func (d *Destuffer) Next(bit Level) (bool, error) {
	if d.run == StuffRun {
		if bit == d.last {
			return false, ErrStuff
		}
		d.last = bit
		d.run = 1
		return false, nil
	}
	if d.run != 0 && bit == d.last {
		d.run++
	} else {
		d.last = bit
		d.run = 1
	}
	return true, nil
}

// Stuff returns bits with stuff bits inserted
func Stuff(bits []Level) []Level {
	var s Stuffer
	s.Reset()
	out := make([]Level, 0, len(bits)+len(bits)/4)
	for _, b := range bits {
		o, n := s.Push(b)
		out = append(out, o[:n]...)
	}
	return out
}

// Destuff strips stuff bits; it fails on the first stuffing violation
func Destuff(raw []Level) ([]Level, error) {
	var d Destuffer
	d.Reset()
	out := make([]Level, 0, len(raw))
	for _, b := range raw {
		data, err := d.Next(b)
		if err != nil {
			return out, err
		}
		if data {
			out = append(out, b)
		}
	}
	return out, nil
}
