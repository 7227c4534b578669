// Package rtpengine is the in-process media plane: UDP RTP sessions
// with prompt playback, DTMF detection and generation, recording, and
// packet-forwarding bridges. Audio is G.711 µ-law at 8 kHz throughout.
package rtpengine

import "time"

// Codec is an immutable audio codec specification.
type Codec struct {
	Name        string
	PayloadType uint8
	SampleRate  uint32
	FrameDur    time.Duration
}

var (
	// PCMU is G.711 µ-law.
	PCMU = Codec{"PCMU", 0, 8000, 20 * time.Millisecond}

	// PCMA is G.711 A-law.
	PCMA = Codec{"PCMA", 8, 8000, 20 * time.Millisecond}

	// TelephoneEvent is RFC 4733 DTMF events.
	TelephoneEvent = Codec{"telephone-event", 101, 8000, 20 * time.Millisecond}
)

// SamplesPerFrame returns the samples in one frame: 160 for 8 kHz at
// 20 ms.
func (c Codec) SamplesPerFrame() int {
	return int(c.SampleRate) * int(c.FrameDur) / int(time.Second)
}

// BytesPerFrame returns payload bytes per frame. G.711 encodes one
// byte per sample.
func (c Codec) BytesPerFrame() int {
	return c.SamplesPerFrame()
}

// TimestampIncrement returns the RTP timestamp advance per frame.
func (c Codec) TimestampIncrement() uint32 {
	return uint32(c.SamplesPerFrame())
}
