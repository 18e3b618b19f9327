package core

import "softcan/protocol"

// utoa converts an unsigned integer to a string without the fmt package
func utoa(n uint32) string {
	var buf [10]byte
	return string(protocol.AppendUint(buf[:0], n))
}

// hex32 formats n as upper case hex without leading zeros
func hex32(n uint32) string {
	const digits = "0123456789ABCDEF"
	var buf [8]byte
	pos := len(buf)
	for {
		pos--
		buf[pos] = digits[n&0xF]
		n >>= 4
		if n == 0 {
			break
		}
	}
	return string(buf[pos:])
}

// appendHex appends the low digits nibbles of v in upper case hex
func appendHex(dst []byte, v uint32, digits int) []byte {
	const hexDigits = "0123456789ABCDEF"
	for i := digits - 1; i >= 0; i-- {
		dst = append(dst, hexDigits[(v>>(uint(i)*4))&0xF])
	}
	return dst
}
