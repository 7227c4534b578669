// Package sipua implements the telephony adapter on SIP: a user agent
// built on sipgo that terminates inbound INVITEs, originates outbound
// calls, and anchors every leg's media in an RTP session.
package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/aria/internal/rtpengine"
	"github.com/sebas/aria/internal/telephony"
)

// Config holds the user agent settings.
type Config struct {
	// BindIP is the local address for SIP signaling and RTP sockets.
	BindIP string

	// Port is the SIP listening port.
	Port int

	// AdvertiseIP is the address placed in Contact headers and SDP.
	// Falls back to BindIP when empty.
	AdvertiseIP string

	// MusicPath is the WAV file looped at legs parked on hold.
	MusicPath string

	// RecordDir is where recordings are written.
	RecordDir string

	// RecordBaseURL, when set, is the public prefix reported for
	// finished recordings instead of the local file path.
	RecordBaseURL string

	// BeepPath, when set, is played before a recording starts.
	BeepPath string

	// OnInbound is invoked for every new inbound leg, after the remote
	// party has been sent ringing. It must not block.
	OnInbound func(leg telephony.Leg)

	Logger *slog.Logger
}

// UA is the SIP user agent. It implements telephony.Adapter.
type UA struct {
	cfg    Config
	logger *slog.Logger

	agent  *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client

	mu      sync.Mutex
	legs    map[string]*leg // by Call-ID
	bridges map[string]*rtpengine.Bridge
}

var _ telephony.Adapter = (*UA)(nil)

// New creates the user agent and registers its request handlers.
func New(cfg Config) (*UA, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AdvertiseIP == "" {
		cfg.AdvertiseIP = cfg.BindIP
	}

	agent, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("create user agent: %w", err)
	}
	server, err := sipgo.NewServer(agent)
	if err != nil {
		agent.Close()
		return nil, fmt.Errorf("create server: %w", err)
	}
	client, err := sipgo.NewClient(agent)
	if err != nil {
		agent.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	u := &UA{
		cfg:     cfg,
		logger:  cfg.Logger,
		agent:   agent,
		server:  server,
		client:  client,
		legs:    make(map[string]*leg),
		bridges: make(map[string]*rtpengine.Bridge),
	}

	server.OnRequest(sip.INVITE, u.handleINVITE)
	server.OnRequest(sip.ACK, u.handleACK)
	server.OnRequest(sip.BYE, u.handleBYE)
	server.OnRequest(sip.CANCEL, u.handleCANCEL)

	return u, nil
}

// ListenAndServe binds the SIP socket and blocks until ctx is canceled.
func (u *UA) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", u.cfg.BindIP, u.cfg.Port)
	u.logger.Info("[SIP] Listening", "addr", addr)
	return u.server.ListenAndServe(ctx, "udp", addr)
}

// Close shuts the agent down and destroys every remaining leg.
func (u *UA) Close() error {
	u.mu.Lock()
	legs := make([]*leg, 0, len(u.legs))
	for _, l := range u.legs {
		legs = append(legs, l)
	}
	u.legs = make(map[string]*leg)
	u.mu.Unlock()

	for _, l := range legs {
		l.destroy()
	}
	return u.agent.Close()
}

func (u *UA) registerLeg(l *leg) {
	u.mu.Lock()
	u.legs[l.id] = l
	u.mu.Unlock()
}

func (u *UA) unregisterLeg(id string) {
	u.mu.Lock()
	delete(u.legs, id)
	u.mu.Unlock()
}

func (u *UA) legByCallID(id string) *leg {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.legs[id]
}

// handleINVITE terminates an inbound call: sends provisional responses,
// opens the media session against the offered SDP, and hands the
// ringing leg to the intake callback. Answering is left to the flow.
func (u *UA) handleINVITE(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	u.logger.Info("[SIP] Received INVITE",
		"callID", callID, "from", callerOf(req), "to", numberOf(req))

	trying := sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		u.logger.Error("[SIP] Failed to send 100 Trying", "callID", callID, "error", err)
		return
	}

	remoteAddr, remotePort, err := parseSDP(req.Body())
	if err != nil {
		u.logger.Error("[SIP] Rejecting INVITE, bad SDP", "callID", callID, "error", err)
		notAcceptable := sip.NewResponseFromRequest(req, sip.StatusNotAcceptable, "Not Acceptable", nil)
		tx.Respond(notAcceptable)
		return
	}

	session, err := rtpengine.NewSession(u.cfg.BindIP, u.logger)
	if err != nil {
		u.logger.Error("[SIP] Failed to open media session", "callID", callID, "error", err)
		unavailable := sip.NewResponseFromRequest(req, sip.StatusServiceUnavailable, "Service Unavailable", nil)
		tx.Respond(unavailable)
		return
	}
	session.SetRemote(remoteAddr, remotePort)

	l := newLeg(callID, callerOf(req), numberOf(req), session)
	l.invite = req
	l.inviteTx = tx
	l.localTag = generateTag()
	if from := req.From(); from != nil {
		if tag, ok := from.Params.Get("tag"); ok {
			l.remoteTag = tag
		}
	}
	if cseq := req.CSeq(); cseq != nil {
		l.cseq.Store(cseq.SeqNo)
	}

	ringing := sip.NewResponseFromRequest(req, sip.StatusRinging, "Ringing", nil)
	addToTag(ringing, l.localTag)
	if err := tx.Respond(ringing); err != nil {
		u.logger.Error("[SIP] Failed to send 180 Ringing", "callID", callID, "error", err)
		l.destroy()
		return
	}

	u.registerLeg(l)

	// The far end abandoning the transaction before our final response
	// tears the leg down.
	go func() {
		<-tx.Done()
		l.mu.Lock()
		final := l.finalSent
		l.mu.Unlock()
		if !final && !l.gone() {
			u.logger.Info("[SIP] INVITE transaction ended before answer", "callID", callID)
			l.requestHangup()
			u.unregisterLeg(l.id)
			l.destroy()
		}
	}()

	if u.cfg.OnInbound != nil {
		u.cfg.OnInbound(l)
	}
}

func (u *UA) handleACK(req *sip.Request, tx sip.ServerTransaction) {
	u.logger.Debug("[SIP] Received ACK", "callID", callIDOf(req))
}

// handleBYE acknowledges the remote hangup and tears the leg down.
func (u *UA) handleBYE(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	u.logger.Info("[SIP] Received BYE", "callID", callID)

	ok := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(ok); err != nil {
		u.logger.Error("[SIP] Failed to respond to BYE", "callID", callID, "error", err)
	}

	l := u.legByCallID(callID)
	if l == nil {
		return
	}
	l.requestHangup()
	u.unregisterLeg(l.id)
	l.destroy()
}

// handleCANCEL aborts a not-yet-answered inbound call.
func (u *UA) handleCANCEL(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	u.logger.Info("[SIP] Received CANCEL", "callID", callID)

	ok := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(ok); err != nil {
		u.logger.Error("[SIP] Failed to respond to CANCEL", "callID", callID, "error", err)
	}

	l := u.legByCallID(callID)
	if l == nil {
		return
	}

	l.mu.Lock()
	inviteTx := l.inviteTx
	invite := l.invite
	final := l.finalSent
	if !final {
		l.finalSent = true
	}
	l.mu.Unlock()

	if !final && inviteTx != nil && invite != nil {
		terminated := sip.NewResponseFromRequest(invite, sip.StatusRequestTerminated, "Request Terminated", nil)
		addToTag(terminated, l.localTag)
		inviteTx.Respond(terminated)
	}

	l.requestHangup()
	u.unregisterLeg(l.id)
	l.destroy()
}

func (u *UA) contactURI() sip.Uri {
	return sip.Uri{
		User: "aria",
		Host: u.cfg.AdvertiseIP,
		Port: u.cfg.Port,
	}
}

// addToTag stamps our dialog tag on a UAS response.
func addToTag(resp *sip.Response, tag string) {
	to := resp.To()
	if to == nil {
		return
	}
	if to.Params == nil {
		to.Params = sip.NewParams()
	}
	to.Params.Add("tag", tag)
}

func callIDOf(req *sip.Request) string {
	if id := req.CallID(); id != nil {
		return id.Value()
	}
	return ""
}

func callerOf(req *sip.Request) string {
	if from := req.From(); from != nil {
		return from.Address.User
	}
	return ""
}

func numberOf(req *sip.Request) string {
	if to := req.To(); to != nil {
		if to.Address.User != "" {
			return to.Address.User
		}
		return to.Address.Host
	}
	return ""
}

func generateCallID() string {
	return uuid.New().String()
}

func generateTag() string {
	return uuid.New().String()[:8]
}
