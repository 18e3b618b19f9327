package protocol

import "testing"

func TestSlcanFrameRoundTrip(t *testing.T) {
	frames := []Frame{
		{ID: 0x123, DLC: 2, Data: [8]byte{0xAA, 0xBB}},
		{ID: ExtendedID(0x1ABCDEF), DLC: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{ID: RemoteID(0x7E0), DLC: 3},
		{ID: RemoteID(ExtendedID(0x42)), DLC: 0},
		{ID: 0x000, DLC: 0},
	}
	for _, f := range frames {
		line := AppendSlcanFrame(nil, &f)
		if line[len(line)-1] != SlcanEnd {
			t.Fatalf("%v: line not terminated: %q", f, line)
		}
		got, err := ParseSlcanFrame(line[:len(line)-1])
		if err != nil {
			t.Fatalf("%v: parse %q failed: %v", f, line, err)
		}
		if !got.Equal(&f) {
			t.Errorf("round trip of %q gave %v, expected %v", line, got, f)
		}
	}
}

func TestSlcanKnownLines(t *testing.T) {
	f := Frame{ID: 0x123, DLC: 2, Data: [8]byte{0xAA, 0xBB}}
	if got := string(AppendSlcanFrame(nil, &f)); got != "t1232AABB\r" {
		t.Errorf("AppendSlcanFrame = %q", got)
	}
	ext := Frame{ID: ExtendedID(0x18DAF110), DLC: 1, Data: [8]byte{0x3E}}
	if got := string(AppendSlcanFrame(nil, &ext)); got != "T18DAF11013E\r" {
		t.Errorf("AppendSlcanFrame = %q", got)
	}
}

func TestParseSlcanCommands(t *testing.T) {
	testCases := []struct {
		line    string
		kind    SlcanKind
		bitrate uint32
	}{
		{"O", SlcanOpen, 0},
		{"C", SlcanClose, 0},
		{"S6", SlcanBitrate, 500000},
		{"S8", SlcanBitrate, 1000000},
		{"V", SlcanVersion, 0},
		{"F", SlcanStatus, 0},
		{"Q", SlcanStats, 0},
		{"t1000", SlcanFrame, 0},
	}
	for _, tc := range testCases {
		l, err := ParseSlcan([]byte(tc.line))
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.line, err)
			continue
		}
		if l.Kind != tc.kind || l.Bitrate != tc.bitrate {
			t.Errorf("%q: got kind=%d bitrate=%d", tc.line, l.Kind, l.Bitrate)
		}
	}
}

func TestParseSlcanErrors(t *testing.T) {
	bad := []string{"", "S9", "Sx", "t12", "t1239", "t1231A", "tXYZ0", "r1231AA", "Z", "E"}
	for _, line := range bad {
		if _, err := ParseSlcan([]byte(line)); err == nil {
			t.Errorf("%q: expected error", line)
		}
	}
}

func TestSlcanErrorLine(t *testing.T) {
	line := AppendSlcanError(nil, 3)
	l, err := ParseSlcan(line[:len(line)-1])
	if err != nil {
		t.Fatalf("parse %q failed: %v", line, err)
	}
	if l.Kind != SlcanError || l.Code != 3 {
		t.Errorf("got %+v", l)
	}
}

func TestBitrateCode(t *testing.T) {
	if c, ok := BitrateCode(500000); !ok || c != '6' {
		t.Errorf("BitrateCode(500000) = %q, %v", c, ok)
	}
	if _, ok := BitrateCode(123); ok {
		t.Error("BitrateCode accepted an unsupported rate")
	}
}

func TestAppendUint(t *testing.T) {
	if got := string(AppendUint(nil, 0)); got != "0" {
		t.Errorf("AppendUint(0) = %q", got)
	}
	if got := string(AppendUint([]byte("Q"), 4294967295)); got != "Q4294967295" {
		t.Errorf("AppendUint(max) = %q", got)
	}
}
