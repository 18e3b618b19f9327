package protocol

// Bitstream is a frame rendered as raw bus levels from SOF through the last
// EOF bit, stuff bits included. The marker fields index into the stream.
type Bitstream struct {
	bits [MaxFrameBits]Level
	n    int

	ArbEnd   int // first bit after the arbitration field (and its stuff bit)
	CRCDelim int // CRC delimiter
	AckSlot  int // ACK slot, sent recessive by the transmitter
}

// Len returns the number of raw bits
func (b *Bitstream) Len() int {
	return b.n
}

// At returns the raw bit at position i
func (b *Bitstream) At(i int) Level {
	return b.bits[i]
}

// Bits returns a view of the raw bits
func (b *Bitstream) Bits() []Level {
	return b.bits[:b.n]
}

func (b *Bitstream) put(l Level) {
	b.bits[b.n] = l
	b.n++
}

// encoder feeds the stuffer and the CRC together
type encoder struct {
	out *Bitstream
	st  Stuffer
	crc CRC15
}

// field emits the n low bits of v, MSB first, through stuffing and the CRC
func (e *encoder) field(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		bit := LevelOf(v >> uint(i))
		e.crc.Feed(bit)
		e.stuffed(bit)
	}
}

func (e *encoder) stuffed(bit Level) {
	o, k := e.st.Push(bit)
	for j := 0; j < k; j++ {
		e.out.put(o[j])
	}
}

// Encode renders f into out. The frame must be valid.
func Encode(f *Frame, out *Bitstream) error {
	if err := f.Validate(); err != nil {
		return err
	}
	*out = Bitstream{}
	e := encoder{out: out}
	e.st.Reset()

	rtr := uint32(0)
	if f.IsRemote() {
		rtr = 1
	}

	e.field(0, 1) // SOF
	if f.IsExtended() {
		id := f.ID & ExtendedIDMask
		e.field(id>>ExtIDBits, BaseIDBits)
		e.field(1, 1) // SRR
		e.field(1, 1) // IDE
		e.field(id, ExtIDBits)
		e.field(rtr, 1)
		out.ArbEnd = out.n
		e.field(0, 2) // r1, r0
	} else {
		e.field(f.ID&StandardIDMask, BaseIDBits)
		e.field(rtr, 1)
		out.ArbEnd = out.n
		e.field(0, 2) // IDE, r0
	}
	e.field(uint32(f.DLC), DLCBits)
	for _, d := range f.Payload() {
		e.field(uint32(d), 8)
	}

	crc := uint32(e.crc.Value())
	for i := CRCBits - 1; i >= 0; i-- {
		e.stuffed(LevelOf(crc >> uint(i)))
	}

	out.CRCDelim = out.n
	out.put(Recessive)
	out.AckSlot = out.n
	out.put(Recessive)
	out.put(Recessive) // ACK delimiter
	for i := 0; i < EOFBits; i++ {
		out.put(Recessive)
	}
	return nil
}
