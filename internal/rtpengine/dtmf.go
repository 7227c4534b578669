package rtpengine

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/pion/rtp"
)

// digitAlphabet maps RFC 4733 event codes (the index) to digit runes.
const digitAlphabet = "0123456789*#ABCD"

// DTMF timing defaults.
const (
	dtmfVolume      uint8  = 10   // -10 dBm0
	dtmfMinDuration uint16 = 400  // 50ms at 8kHz
	dtmfDuration    uint16 = 1600 // 200ms at 8kHz
)

func digitToCode(r rune) (uint8, bool) {
	i := strings.IndexRune(digitAlphabet, unicode.ToUpper(r))
	if i < 0 {
		return 0, false
	}
	return uint8(i), true
}

func codeToDigit(c uint8) (rune, bool) {
	if int(c) >= len(digitAlphabet) {
		return 0, false
	}
	return rune(digitAlphabet[c]), true
}

// DTMFEvent is an RFC 4733 telephone-event payload:
//
//	|     event     |E|R| volume    |          duration             |
type DTMFEvent struct {
	Code     uint8
	End      bool
	Volume   uint8
	Duration uint16
}

// Encode serializes the event to the 4-byte wire format.
func (e DTMFEvent) Encode() []byte {
	b := make([]byte, 4)
	b[0] = e.Code
	b[1] = e.Volume & 0x3f
	if e.End {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:], e.Duration)
	return b
}

// DecodeDTMFEvent parses a 4-byte telephone-event payload.
func DecodeDTMFEvent(payload []byte) (DTMFEvent, error) {
	if len(payload) < 4 {
		return DTMFEvent{}, fmt.Errorf("telephone-event payload too short: %d bytes", len(payload))
	}
	return DTMFEvent{
		Code:     payload[0],
		End:      payload[1]&0x80 != 0,
		Volume:   payload[1] & 0x3f,
		Duration: binary.BigEndian.Uint16(payload[2:]),
	}, nil
}

// DTMFDetector turns a telephone-event packet stream into digits. An
// event may span many packets; a digit is reported once, on the first
// end-of-event packet whose duration clears the noise floor.
type DTMFDetector struct {
	payloadType uint8
	minDuration uint16

	active bool
	code   uint8
}

// NewDTMFDetector creates a detector for the given telephone-event
// payload type.
func NewDTMFDetector(payloadType uint8) *DTMFDetector {
	return &DTMFDetector{
		payloadType: payloadType,
		minDuration: dtmfMinDuration,
	}
}

// Feed processes one RTP packet and reports a completed digit, if any.
func (d *DTMFDetector) Feed(pkt *rtp.Packet) (rune, bool) {
	if pkt.PayloadType != d.payloadType {
		return 0, false
	}
	evt, err := DecodeDTMFEvent(pkt.Payload)
	if err != nil {
		return 0, false
	}

	if !evt.End {
		if !d.active || evt.Code != d.code {
			d.active = true
			d.code = evt.Code
		}
		return 0, false
	}

	// Redundant end packets for the same event must not re-report.
	complete := d.active && evt.Code == d.code && evt.Duration >= d.minDuration
	d.active = false
	if !complete {
		return 0, false
	}
	return codeToDigit(evt.Code)
}

// Reset clears any half-seen event.
func (d *DTMFDetector) Reset() {
	d.active = false
	d.code = 0
}

// SendDigits streams a digit string as RFC 4733 events on the writer:
// continuation packets every frame, then three redundant end packets
// per digit, with a short inter-digit gap.
func SendDigits(ctx context.Context, w *StreamWriter, digits string) error {
	for i, r := range digits {
		if err := sendDigit(ctx, w, r); err != nil {
			return fmt.Errorf("digit %d (%c): %w", i, r, err)
		}
		select {
		case <-time.After(2 * PCMU.FrameDur):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func sendDigit(ctx context.Context, w *StreamWriter, r rune) error {
	code, ok := digitToCode(r)
	if !ok {
		return fmt.Errorf("not a DTMF digit")
	}

	step := uint16(PCMU.SamplesPerFrame())
	for dur := step; dur < dtmfDuration; dur += step {
		evt := DTMFEvent{Code: code, Volume: dtmfVolume, Duration: dur}
		if err := w.WriteEvent(TelephoneEvent.PayloadType, evt.Encode(), dur == step); err != nil {
			return err
		}
		select {
		case <-time.After(PCMU.FrameDur):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	end := DTMFEvent{Code: code, End: true, Volume: dtmfVolume, Duration: dtmfDuration}
	for i := 0; i < 3; i++ {
		if err := w.WriteEvent(TelephoneEvent.PayloadType, end.Encode(), false); err != nil {
			return err
		}
	}
	return nil
}
