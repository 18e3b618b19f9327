package protocol

import "errors"

// SLCAN line protocol (Lawicel ASCII) used between the firmware and host tools.
//
//	tiiiLdd..    standard data frame      Tiiiiiiii Ldd..  extended data frame
//	riiiL        standard remote frame    RiiiiiiiiL       extended remote frame
//	O / C        open / close the channel Sn               select bitrate
//	V            version                  F                status flags
//	Q            statistics (softcan extension, reply "Qrx,tx,perr,arb,retry")
//	Ek           error notification (softcan extension, k = error kind digit)
//
// Every line ends with '\r'. A command is acknowledged with '\r' or rejected
// with BEL.
const (
	SlcanEnd = '\r'
	SlcanOK  = '\r'
	SlcanErr = 0x07
)

// SlcanKind identifies a parsed SLCAN line
type SlcanKind uint8

const (
	SlcanFrame SlcanKind = iota + 1
	SlcanOpen
	SlcanClose
	SlcanBitrate
	SlcanVersion
	SlcanStatus
	SlcanStats
	SlcanError
)

var (
	ErrSlcanEmpty   = errors.New("slcan: empty line")
	ErrSlcanUnknown = errors.New("slcan: unknown command")
	ErrSlcanSyntax  = errors.New("slcan: malformed line")
)

// slcanBitrates maps the Sn digit to a bitrate
var slcanBitrates = [...]uint32{
	10000, 20000, 50000, 100000, 125000, 250000, 500000, 800000, 1000000,
}

// SlcanLine is one decoded line
type SlcanLine struct {
	Kind    SlcanKind
	Frame   Frame
	Bitrate uint32
	Code    uint8 // error kind for SlcanError
}

// BitrateCode returns the Sn digit for a bitrate
func BitrateCode(bitrate uint32) (byte, bool) {
	for i, b := range slcanBitrates {
		if b == bitrate {
			return byte('0' + i), true
		}
	}
	return 0, false
}

// ParseSlcan decodes one line without its terminator
func ParseSlcan(line []byte) (SlcanLine, error) {
	var l SlcanLine
	if len(line) == 0 {
		return l, ErrSlcanEmpty
	}
	switch line[0] {
	case 't', 'T', 'r', 'R':
		f, err := ParseSlcanFrame(line)
		if err != nil {
			return l, err
		}
		l.Kind = SlcanFrame
		l.Frame = f
	case 'O':
		l.Kind = SlcanOpen
	case 'C':
		l.Kind = SlcanClose
	case 'S':
		if len(line) != 2 || line[1] < '0' || int(line[1]-'0') >= len(slcanBitrates) {
			return l, ErrSlcanSyntax
		}
		l.Kind = SlcanBitrate
		l.Bitrate = slcanBitrates[line[1]-'0']
	case 'V':
		l.Kind = SlcanVersion
	case 'F':
		l.Kind = SlcanStatus
	case 'Q':
		l.Kind = SlcanStats
	case 'E':
		if len(line) != 2 {
			return l, ErrSlcanSyntax
		}
		v, ok := unhex(line[1])
		if !ok {
			return l, ErrSlcanSyntax
		}
		l.Kind = SlcanError
		l.Code = v
	default:
		return l, ErrSlcanUnknown
	}
	return l, nil
}

// ParseSlcanFrame decodes a t/T/r/R line
func ParseSlcanFrame(line []byte) (Frame, error) {
	var f Frame
	if len(line) == 0 {
		return f, ErrSlcanEmpty
	}
	idLen := 3
	if line[0] == 'T' || line[0] == 'R' {
		idLen = 8
	}
	if len(line) < 1+idLen+1 {
		return f, ErrSlcanSyntax
	}
	id, ok := hexField(line[1 : 1+idLen])
	if !ok {
		return f, ErrSlcanSyntax
	}
	dlc, ok := unhex(line[1+idLen])
	if !ok || dlc > MaxDataLen {
		return f, ErrSlcanSyntax
	}
	if idLen == 8 {
		id |= IDExtended
	}
	remote := line[0] == 'r' || line[0] == 'R'
	if remote {
		id |= IDRemote
	}
	f.ID = id
	f.DLC = dlc
	body := line[2+idLen:]
	if remote {
		if len(body) != 0 {
			return f, ErrSlcanSyntax
		}
		return f, f.Validate()
	}
	if len(body) != int(dlc)*2 {
		return f, ErrSlcanSyntax
	}
	for i := 0; i < int(dlc); i++ {
		v, ok := hexField(body[i*2 : i*2+2])
		if !ok {
			return f, ErrSlcanSyntax
		}
		f.Data[i] = byte(v)
	}
	return f, f.Validate()
}

// AppendSlcanFrame appends the SLCAN line for f, including the terminator
func AppendSlcanFrame(dst []byte, f *Frame) []byte {
	var tag byte
	switch {
	case f.IsRemote() && f.IsExtended():
		tag = 'R'
	case f.IsRemote():
		tag = 'r'
	case f.IsExtended():
		tag = 'T'
	default:
		tag = 't'
	}
	dst = append(dst, tag)
	digits := 3
	if f.IsExtended() {
		digits = 8
	}
	id := f.Identifier()
	for i := digits - 1; i >= 0; i-- {
		dst = append(dst, nibbleToHex(byte(id>>(uint(i)*4))))
	}
	dst = append(dst, nibbleToHex(f.DLC))
	for _, d := range f.Payload() {
		dst = append(dst, nibbleToHex(d>>4), nibbleToHex(d))
	}
	return append(dst, SlcanEnd)
}

// AppendSlcanError appends an error notification line
func AppendSlcanError(dst []byte, code uint8) []byte {
	return append(dst, 'E', nibbleToHex(code), SlcanEnd)
}

// AppendUint appends a decimal number without allocating
func AppendUint(dst []byte, v uint32) []byte {
	var buf [10]byte
	i := len(buf)
	for {
		i--
		buf[i] = '0' + byte(v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	return append(dst, buf[i:]...)
}

func nibbleToHex(n byte) byte {
	n &= 0xF
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

func unhex(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func hexField(s []byte) (uint32, bool) {
	var v uint32
	for _, c := range s {
		n, ok := unhex(c)
		if !ok {
			return 0, false
		}
		v = v<<4 | uint32(n)
	}
	return v, true
}
