package protocol

// LineBuffer is a circular byte FIFO that hands out '\r' terminated lines.
// It is used on both ends of the SLCAN link to reassemble commands from
// arbitrary serial read chunks.
type LineBuffer struct {
	buf   []byte
	read  int
	write int
	size  int
}

// NewLineBuffer creates a LineBuffer with the given capacity
func NewLineBuffer(capacity int) *LineBuffer {
	return &LineBuffer{
		buf:  make([]byte, capacity),
		size: capacity,
	}
}

// Write appends data, returning how many bytes fit
func (l *LineBuffer) Write(data []byte) int {
	written := 0
	for _, b := range data {
		nextWrite := (l.write + 1) % l.size
		if nextWrite == l.read {
			// Buffer full
			break
		}
		l.buf[l.write] = b
		l.write = nextWrite
		written++
	}
	return written
}

// Available returns the number of buffered bytes
func (l *LineBuffer) Available() int {
	if l.write >= l.read {
		return l.write - l.read
	}
	return l.size - l.read + l.write
}

// Free returns the number of bytes that can still be written
func (l *LineBuffer) Free() int {
	return l.size - l.Available() - 1
}

// NextLine copies the next complete line (without '\r') into dst and
// removes it from the buffer. Bare '\n' characters are dropped so that
// terminals sending "\r\n" work. A line longer than dst is discarded.
func (l *LineBuffer) NextLine(dst []byte) ([]byte, bool) {
	for {
		end := l.find(SlcanEnd)
		if end < 0 {
			// Full buffer without a terminator can never complete
			if l.Free() == 0 {
				l.Reset()
			}
			return nil, false
		}
		n := 0
		overflow := false
		for j := l.read; j != end; j = (j + 1) % l.size {
			c := l.buf[j]
			if c == '\n' {
				continue
			}
			if n == len(dst) {
				overflow = true
				break
			}
			dst[n] = c
			n++
		}
		l.read = (end + 1) % l.size
		if !overflow {
			return dst[:n], true
		}
	}
}

// find returns the buffer index of the first c, or -1
func (l *LineBuffer) find(c byte) int {
	for i := l.read; i != l.write; i = (i + 1) % l.size {
		if l.buf[i] == c {
			return i
		}
	}
	return -1
}

// IsEmpty returns true if the buffer is empty
func (l *LineBuffer) IsEmpty() bool {
	return l.read == l.write
}

// Reset clears the buffer
func (l *LineBuffer) Reset() {
	l.read = 0
	l.write = 0
}
