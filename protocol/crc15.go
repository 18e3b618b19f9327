package protocol

// CRC15Poly is the CAN generator polynomial x^15+x^14+x^10+x^8+x^7+x^4+x^3+1
const CRC15Poly = 0x4599

// CRC15 is a shift-register CRC over destuffed bits from SOF through the
// last data bit. The zero value is ready to use.
type CRC15 struct {
	reg uint16
}

// Feed shifts one bit into the register
func (c *CRC15) Feed(bit Level) {
	next := uint16(bit&1) ^ (c.reg >> 14)
	c.reg = (c.reg << 1) & 0x7FFF
	if next&1 != 0 {
		c.reg ^= CRC15Poly
	}
}

// Value returns the current 15-bit checksum
func (c *CRC15) Value() uint16 {
	return c.reg
}

// Reset clears the register
func (c *CRC15) Reset() {
	c.reg = 0
}

// CRC15Bits computes the checksum of a bit sequence
func CRC15Bits(bits []Level) uint16 {
	var c CRC15
	for _, b := range bits {
		c.Feed(b)
	}
	return c.Value()
}
