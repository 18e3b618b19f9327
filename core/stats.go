package core

// Statistics are monotonically increasing counters kept per controller.
// They are cleared only by a new Setup.
type Statistics struct {
	RxFrames          uint32 // foreign frames received
	TxFrames          uint32 // own frames acknowledged
	ParseErrors       uint32 // stuff, form and CRC errors
	ArbitrationLosses uint32
	TxRetries         uint32 // transmission restarts after loss or error

	StuffErrors uint32
	FormErrors  uint32
	CRCErrors   uint32
	AckErrors   uint32
	BitErrors   uint32
}

func (s *Statistics) countError(kind ErrorKind) {
	switch kind {
	case ErrorStuff:
		s.StuffErrors++
		s.ParseErrors++
	case ErrorForm:
		s.FormErrors++
		s.ParseErrors++
	case ErrorCRC:
		s.CRCErrors++
		s.ParseErrors++
	case ErrorAck:
		s.AckErrors++
	case ErrorBit:
		s.BitErrors++
	}
}
