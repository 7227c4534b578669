package sipua

import (
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/aria/internal/rtpengine"
	"github.com/sebas/aria/internal/telephony"
)

// leg is one SIP dialog with its media session. It implements
// telephony.Leg; the UA owns signaling state and drives the lifecycle
// channels.
type leg struct {
	id      string
	caller  string
	number  string
	session *rtpengine.Session

	answered  chan struct{}
	destroyed chan struct{}
	departed  chan struct{}
	hangup    chan struct{}
	dtmf      chan rune

	answerOnce  sync.Once
	destroyOnce sync.Once
	hangupOnce  sync.Once

	// tap mirrors inbound digits to a second consumer (the recorder's
	// terminator watch) without disturbing the main DTMF channel.
	tap atomic.Pointer[chan rune]

	mu sync.Mutex

	// Dialog state per RFC 3261 section 12, kept for BYE construction.
	outbound      bool
	invite        *sip.Request
	inviteTx      sip.ServerTransaction
	finalSent     bool
	localTag      string
	remoteTag     string
	remoteContact string
	cseq          atomic.Uint32
}

var _ telephony.Leg = (*leg)(nil)

func newLeg(id, caller, number string, session *rtpengine.Session) *leg {
	l := &leg{
		id:        id,
		caller:    caller,
		number:    number,
		session:   session,
		answered:  make(chan struct{}),
		destroyed: make(chan struct{}),
		departed:  make(chan struct{}),
		hangup:    make(chan struct{}),
		dtmf:      make(chan rune, 32),
	}
	go l.pumpDigits()
	return l
}

func (l *leg) ID() string     { return l.id }
func (l *leg) Caller() string { return l.caller }
func (l *leg) Number() string { return l.number }

func (l *leg) Answered() <-chan struct{}        { return l.answered }
func (l *leg) Destroyed() <-chan struct{}       { return l.destroyed }
func (l *leg) Departed() <-chan struct{}        { return l.departed }
func (l *leg) HangupRequested() <-chan struct{} { return l.hangup }
func (l *leg) DTMF() <-chan rune                { return l.dtmf }

// pumpDigits forwards detected digits from the media session to the
// leg's DTMF channel and, when installed, the tap. The leg's channel is
// deliberately never closed; consumers watch Destroyed instead.
func (l *leg) pumpDigits() {
	for d := range l.session.Digits() {
		select {
		case l.dtmf <- d:
		default:
		}
		if tap := l.tap.Load(); tap != nil {
			select {
			case *tap <- d:
			default:
			}
		}
	}
}

func (l *leg) setTap(ch chan rune) {
	if ch == nil {
		l.tap.Store(nil)
		return
	}
	l.tap.Store(&ch)
}

func (l *leg) markAnswered() {
	l.answerOnce.Do(func() { close(l.answered) })
}

func (l *leg) requestHangup() {
	l.hangupOnce.Do(func() { close(l.hangup) })
}

// destroy closes the media session and signals both terminal channels.
// Safe to call from any teardown path.
func (l *leg) destroy() {
	l.destroyOnce.Do(func() {
		close(l.destroyed)
		close(l.departed)
		l.session.Close()
	})
}

func (l *leg) gone() bool {
	select {
	case <-l.destroyed:
		return true
	default:
		return false
	}
}
