package rtpengine

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
)

// Session is one bidirectional RTP flow: a bound UDP socket, a paced
// writer toward the peer, and a read loop that demuxes inbound audio
// from telephone-event digits. The remote address is latched from the
// first inbound packet (symmetric RTP) when signaling gave none.
type Session struct {
	conn   *net.UDPConn
	writer *StreamWriter
	logger *slog.Logger

	detector *DTMFDetector
	digits   chan rune

	// peer is the bridged counterpart; inbound audio is relayed to it.
	peer atomic.Pointer[Session]

	// sink taps inbound audio payloads, used by the recorder.
	sink atomic.Pointer[func([]byte)]

	mu        sync.Mutex
	remote    *net.UDPAddr
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSession binds an ephemeral UDP port on bindIP and starts the read
// loop.
func NewSession(bindIP string, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(bindIP)})
	if err != nil {
		return nil, fmt.Errorf("bind rtp socket: %w", err)
	}

	s := &Session{
		conn:     conn,
		writer:   NewStreamWriter(conn, nil, PCMU),
		logger:   logger,
		detector: NewDTMFDetector(TelephoneEvent.PayloadType),
		digits:   make(chan rune, 32),
		closed:   make(chan struct{}),
	}
	go s.readLoop()

	logger.Debug("[RTP] Session opened", "local", conn.LocalAddr().String())
	return s, nil
}

// LocalAddr returns the bound RTP address.
func (s *Session) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// SetRemote points the session at the peer's media address, usually
// taken from SDP.
func (s *Session) SetRemote(ip string, port int) {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	s.mu.Lock()
	s.remote = addr
	s.mu.Unlock()
	s.writer.SetRemote(addr)
}

// Digits delivers detected DTMF digits. The channel is closed when the
// session closes.
func (s *Session) Digits() <-chan rune {
	return s.digits
}

// Writer returns the paced writer toward the peer.
func (s *Session) Writer() *StreamWriter {
	return s.writer
}

// setSink installs an inbound-audio tap; nil removes it.
func (s *Session) setSink(fn func([]byte)) {
	if fn == nil {
		s.sink.Store(nil)
		return
	}
	s.sink.Store(&fn)
}

// setPeer installs the bridged counterpart; nil unbridges.
func (s *Session) setPeer(p *Session) {
	s.peer.Store(p)
}

// readLoop demuxes inbound packets until the socket closes.
func (s *Session) readLoop() {
	defer close(s.digits)

	buf := make([]byte, 2048)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		s.latchRemote(addr)

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		if digit, ok := s.detector.Feed(pkt); ok {
			select {
			case s.digits <- digit:
			default:
				s.logger.Warn("[RTP] Digit dropped, channel full", "digit", string(digit))
			}
			continue
		}

		if pkt.PayloadType != PCMU.PayloadType && pkt.PayloadType != PCMA.PayloadType {
			continue
		}

		if sink := s.sink.Load(); sink != nil {
			(*sink)(append([]byte(nil), pkt.Payload...))
		}
		if peer := s.peer.Load(); peer != nil {
			_ = peer.writer.WritePassthrough(pkt)
		}
	}
}

// latchRemote adopts the first observed source address when signaling
// provided none, and follows address changes behind NATs.
func (s *Session) latchRemote(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		s.remote = addr
		s.writer.SetRemote(addr)
		s.logger.Debug("[RTP] Latched remote", "remote", addr.String())
	}
}

// Close shuts the socket down and ends the read loop.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writer.Close()
		s.conn.Close()
		s.logger.Debug("[RTP] Session closed", "local", s.conn.LocalAddr().String())
	})
	return nil
}
