package rtpengine

import (
	"testing"

	"github.com/pion/rtp"
)

func eventPacket(code uint8, end bool, duration uint16) *rtp.Packet {
	evt := DTMFEvent{Code: code, End: end, Volume: dtmfVolume, Duration: duration}
	return &rtp.Packet{
		Header:  rtp.Header{PayloadType: TelephoneEvent.PayloadType},
		Payload: evt.Encode(),
	}
}

func TestDetectorReportsDigitOnce(t *testing.T) {
	d := NewDTMFDetector(TelephoneEvent.PayloadType)

	// Continuations, then redundant end packets: one digit total.
	packets := []*rtp.Packet{
		eventPacket(5, false, 160),
		eventPacket(5, false, 320),
		eventPacket(5, false, 480),
		eventPacket(5, true, 480),
		eventPacket(5, true, 480),
		eventPacket(5, true, 480),
	}

	var digits []rune
	for _, pkt := range packets {
		if r, ok := d.Feed(pkt); ok {
			digits = append(digits, r)
		}
	}
	if len(digits) != 1 || digits[0] != '5' {
		t.Errorf("digits = %q, want [5]", string(digits))
	}
}

func TestDetectorFiltersShortEvents(t *testing.T) {
	d := NewDTMFDetector(TelephoneEvent.PayloadType)

	// Below the 50ms noise floor.
	if _, ok := d.Feed(eventPacket(7, false, 80)); ok {
		t.Error("continuation packet reported a digit")
	}
	if _, ok := d.Feed(eventPacket(7, true, 80)); ok {
		t.Error("short event reported a digit")
	}
}

func TestDetectorIgnoresOtherPayloadTypes(t *testing.T) {
	d := NewDTMFDetector(TelephoneEvent.PayloadType)

	pkt := eventPacket(1, true, 800)
	pkt.PayloadType = PCMU.PayloadType
	if _, ok := d.Feed(pkt); ok {
		t.Error("audio packet reported a digit")
	}
}

func TestDetectorEndWithoutStart(t *testing.T) {
	d := NewDTMFDetector(TelephoneEvent.PayloadType)

	// A stray end packet with no preceding event must not report.
	if _, ok := d.Feed(eventPacket(3, true, 800)); ok {
		t.Error("stray end packet reported a digit")
	}
}

func TestDigitCodeMapping(t *testing.T) {
	cases := []struct {
		r    rune
		code uint8
	}{
		{'0', 0}, {'9', 9}, {'*', 10}, {'#', 11}, {'A', 12}, {'d', 15},
	}
	for _, tc := range cases {
		code, ok := digitToCode(tc.r)
		if !ok || code != tc.code {
			t.Errorf("digitToCode(%q) = %d,%v, want %d,true", tc.r, code, ok, tc.code)
		}
	}
	if _, ok := digitToCode('x'); ok {
		t.Error("digitToCode('x') accepted a non-digit")
	}
	if r, ok := codeToDigit(11); !ok || r != '#' {
		t.Errorf("codeToDigit(11) = %q,%v, want #,true", r, ok)
	}
	if _, ok := codeToDigit(16); ok {
		t.Error("codeToDigit(16) accepted an out-of-range code")
	}
}

func TestEventEncodeDecode(t *testing.T) {
	in := DTMFEvent{Code: 11, End: true, Volume: 10, Duration: 1600}
	out, err := DecodeDTMFEvent(in.Encode())
	if err != nil {
		t.Fatalf("DecodeDTMFEvent() error = %v", err)
	}
	if out != in {
		t.Errorf("decoded = %+v, want %+v", out, in)
	}
	if _, err := DecodeDTMFEvent([]byte{1, 2}); err == nil {
		t.Error("DecodeDTMFEvent(short) error = nil, want error")
	}
}
