package rtpengine

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// randomSSRC returns a random 32-bit SSRC per RFC 3550.
func randomSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x1e55a9a1
	}
	return binary.BigEndian.Uint32(b[:])
}

func randomSequence() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

func randomTimestamp() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

// StreamWriter sends RTP packets with clock pacing: each media frame
// waits for the codec tick, so a prompt streams in real time without
// drift.
type StreamWriter struct {
	conn   net.PacketConn
	codec  Codec
	ticker *time.Ticker

	mu     sync.Mutex
	remote net.Addr
	ssrc   uint32
	seq    uint16
	ts     uint32
	closed bool
}

// NewStreamWriter creates a clock-paced writer toward remote.
func NewStreamWriter(conn net.PacketConn, remote net.Addr, codec Codec) *StreamWriter {
	return &StreamWriter{
		conn:   conn,
		codec:  codec,
		ticker: time.NewTicker(codec.FrameDur),
		remote: remote,
		ssrc:   randomSSRC(),
		seq:    randomSequence(),
		ts:     randomTimestamp(),
	}
}

// SetRemote redirects subsequent packets, used when the peer's media
// address is learned after the writer exists (symmetric RTP).
func (w *StreamWriter) SetRemote(remote net.Addr) {
	w.mu.Lock()
	w.remote = remote
	w.mu.Unlock()
}

// WriteFrame sends one media frame, blocking until the next clock
// tick. The marker flags the start of a talkspurt.
func (w *StreamWriter) WriteFrame(payload []byte, marker bool) error {
	<-w.ticker.C

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return net.ErrClosed
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    w.codec.PayloadType,
			SequenceNumber: w.seq,
			Timestamp:      w.ts,
			SSRC:           w.ssrc,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if _, err := w.conn.WriteTo(data, w.remote); err != nil {
		return err
	}

	w.seq++
	w.ts += w.codec.TimestampIncrement()
	return nil
}

// WriteEvent sends a non-media packet (telephone-event) without clock
// pacing, stamped into this writer's sequence space. The timestamp is
// not advanced; RFC 4733 holds it constant for the whole event.
func (w *StreamWriter) WriteEvent(payloadType uint8, payload []byte, marker bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return net.ErrClosed
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    payloadType,
			SequenceNumber: w.seq,
			Timestamp:      w.ts,
			SSRC:           w.ssrc,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if _, err := w.conn.WriteTo(data, w.remote); err != nil {
		return err
	}

	w.seq++
	return nil
}

// WritePassthrough relays a packet from another stream, re-stamped into
// this writer's sequence and SSRC space. Used by bridges.
func (w *StreamWriter) WritePassthrough(pkt *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return net.ErrClosed
	}

	out := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         pkt.Marker,
			PayloadType:    pkt.PayloadType,
			SequenceNumber: w.seq,
			Timestamp:      w.ts,
			SSRC:           w.ssrc,
		},
		Payload: pkt.Payload,
	}
	data, err := out.Marshal()
	if err != nil {
		return err
	}
	if _, err := w.conn.WriteTo(data, w.remote); err != nil {
		return err
	}

	w.seq++
	w.ts += w.codec.TimestampIncrement()
	return nil
}

// Close stops the pacing clock.
func (w *StreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		w.ticker.Stop()
	}
	return nil
}
