package sipua

import (
	"context"
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/aria/internal/rtpengine"
	"github.com/sebas/aria/internal/telephony"
)

// Answer sends the 200 OK with our SDP answer on an inbound leg. On an
// outbound leg (answered during origination) and on an already-answered
// leg it is a no-op.
func (u *UA) Answer(ctx context.Context, tl telephony.Leg) error {
	l, err := u.resolveLeg(tl)
	if err != nil {
		return err
	}
	if l.gone() {
		return telephony.ErrLegGone
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.outbound || l.finalSent {
		l.markAnswered()
		return nil
	}

	body, err := buildSDP(u.cfg.AdvertiseIP, l.session.LocalAddr().Port)
	if err != nil {
		return fmt.Errorf("build sdp answer: %w", err)
	}

	resp := sip.NewResponseFromRequest(l.invite, sip.StatusOK, "OK", body)
	addToTag(resp, l.localTag)
	resp.AppendHeader(&sip.ContactHeader{Address: u.contactURI()})
	contentType := sip.ContentTypeHeader("application/sdp")
	resp.AppendHeader(&contentType)

	if err := l.inviteTx.Respond(resp); err != nil {
		return fmt.Errorf("send 200 OK: %w", err)
	}
	l.finalSent = true
	l.markAnswered()
	u.logger.Info("[SIP] Answered", "callID", l.id)
	return nil
}

// Hangup ends the leg: BYE on an answered dialog, 486 on an inbound leg
// still ringing. A leg that is already gone is a no-op success.
func (u *UA) Hangup(ctx context.Context, tl telephony.Leg) error {
	l, err := u.resolveLeg(tl)
	if err != nil {
		return err
	}
	if l.gone() {
		return nil
	}
	defer func() {
		u.unregisterLeg(l.id)
		l.destroy()
	}()

	l.mu.Lock()
	answered := l.outbound || l.finalSent
	if !answered {
		l.finalSent = true
	}
	l.mu.Unlock()

	if !answered {
		busy := sip.NewResponseFromRequest(l.invite, sip.StatusBusyHere, "Busy Here", nil)
		addToTag(busy, l.localTag)
		if err := l.inviteTx.Respond(busy); err != nil {
			return fmt.Errorf("reject call: %w", err)
		}
		u.logger.Info("[SIP] Rejected", "callID", l.id)
		return nil
	}

	bye, err := u.buildBYE(l)
	if err != nil {
		return err
	}
	tx, err := u.client.TransactionRequest(ctx, bye)
	if err != nil {
		return fmt.Errorf("send BYE: %w", err)
	}
	// Best effort: the dialog is over for us regardless of the answer.
	go func() {
		defer tx.Terminate()
		select {
		case <-tx.Done():
		case <-time.After(5 * time.Second):
		}
	}()
	u.logger.Info("[SIP] Hung up", "callID", l.id)
	return nil
}

// buildBYE constructs the in-dialog BYE. Header roles depend on who
// initiated the dialog (RFC 3261 section 12.2.1.1).
func (u *UA) buildBYE(l *leg) (*sip.Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.invite == nil {
		return nil, fmt.Errorf("no dialog state for BYE")
	}

	var recipient sip.Uri
	if l.outbound {
		if l.remoteContact != "" {
			if err := sip.ParseUri(l.remoteContact, &recipient); err != nil {
				return nil, fmt.Errorf("parse remote contact: %w", err)
			}
		} else if to := l.invite.To(); to != nil {
			recipient = to.Address
		}
	} else {
		if contact := l.invite.Contact(); contact != nil {
			recipient = contact.Address
			recipient.UriParams = sip.NewParams()
		} else if from := l.invite.From(); from != nil {
			recipient = from.Address
		}
	}

	bye := sip.NewRequest(sip.BYE, recipient)

	if l.outbound {
		// From/To keep the roles of our original INVITE.
		if from := l.invite.From(); from != nil {
			bye.AppendHeader(&sip.FromHeader{
				DisplayName: from.DisplayName,
				Address:     from.Address,
				Params:      from.Params.Clone(),
			})
		}
		if to := l.invite.To(); to != nil {
			toHdr := &sip.ToHeader{
				DisplayName: to.DisplayName,
				Address:     to.Address,
				Params:      sip.NewParams(),
			}
			if l.remoteTag != "" {
				toHdr.Params.Add("tag", l.remoteTag)
			}
			bye.AppendHeader(toHdr)
		}
	} else {
		// We answered, so From/To swap relative to their INVITE.
		if to := l.invite.To(); to != nil {
			fromHdr := &sip.FromHeader{
				DisplayName: to.DisplayName,
				Address:     to.Address,
				Params:      sip.NewParams(),
			}
			fromHdr.Params.Add("tag", l.localTag)
			bye.AppendHeader(fromHdr)
		}
		if from := l.invite.From(); from != nil {
			bye.AppendHeader(&sip.ToHeader{
				DisplayName: from.DisplayName,
				Address:     from.Address,
				Params:      from.Params.Clone(),
			})
		}
	}

	if callID := l.invite.CallID(); callID != nil {
		bye.AppendHeader(callID)
	}
	bye.AppendHeader(&sip.CSeqHeader{
		SeqNo:      l.cseq.Add(1),
		MethodName: sip.BYE,
	})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)
	bye.AppendHeader(&sip.ContactHeader{Address: u.contactURI()})

	if !l.outbound {
		bye.SetDestination(l.invite.Source())
	} else if l.remoteContact != "" {
		host := recipient.Host
		port := recipient.Port
		if port == 0 {
			port = 5060
		}
		bye.SetDestination(fmt.Sprintf("%s:%d", host, port))
	}
	return bye, nil
}

// playbackHandle adapts an rtpengine player to the telephony surface.
type playbackHandle struct {
	p *rtpengine.Player
}

var _ telephony.PlaybackHandle = (*playbackHandle)(nil)

func (h *playbackHandle) Done() <-chan error { return h.p.Done() }

func (h *playbackHandle) Stop(ctx context.Context) error {
	h.p.Stop()
	return nil
}

// Play streams media at the leg. The media reference is a local WAV
// path or a "digits:" DTMF sequence.
func (u *UA) Play(ctx context.Context, tl telephony.Leg, media string) (telephony.PlaybackHandle, error) {
	l, err := u.resolveLeg(tl)
	if err != nil {
		return nil, err
	}
	if l.gone() {
		return nil, telephony.ErrLegGone
	}

	p, err := rtpengine.Play(ctx, l.session, media)
	if err != nil {
		return nil, err
	}
	return &playbackHandle{p: p}, nil
}

// recordingHandle adapts an rtpengine recorder, translating its result
// and releasing the digit tap when the capture finishes.
type recordingHandle struct {
	rec  *rtpengine.Recorder
	done chan telephony.RecordingResult
}

var _ telephony.RecordingHandle = (*recordingHandle)(nil)

func (h *recordingHandle) Done() <-chan telephony.RecordingResult { return h.done }

func (h *recordingHandle) Stop(ctx context.Context) error {
	h.rec.Stop()
	return nil
}

// Record captures the leg's inbound audio to a WAV file under the
// configured recording directory.
func (u *UA) Record(ctx context.Context, tl telephony.Leg, p telephony.RecordParams) (telephony.RecordingHandle, error) {
	l, err := u.resolveLeg(tl)
	if err != nil {
		return nil, err
	}
	if l.gone() {
		return nil, telephony.ErrLegGone
	}

	if p.Beep && u.cfg.BeepPath != "" {
		if beep, err := rtpengine.Play(ctx, l.session, u.cfg.BeepPath); err == nil {
			select {
			case <-beep.Done():
			case <-time.After(2 * time.Second):
				beep.Stop()
			case <-ctx.Done():
				beep.Stop()
			}
		}
	}

	tap := make(chan rune, 8)
	l.setTap(tap)

	rec := rtpengine.RecordSession(ctx, l.session, rtpengine.RecorderParams{
		Name:        p.Name,
		Dir:         u.cfg.RecordDir,
		MaxDuration: p.MaxDuration,
		MaxSilence:  p.MaxSilence,
		TerminateOn: p.TerminateOn,
	}, tap)

	h := &recordingHandle{rec: rec, done: make(chan telephony.RecordingResult, 1)}
	go func() {
		res := <-rec.Done()
		l.setTap(nil)
		h.done <- telephony.RecordingResult{
			Name:     res.Name,
			URL:      u.recordingURL(res),
			Duration: res.Duration,
			Err:      res.Err,
		}
	}()
	return h, nil
}

func (u *UA) recordingURL(res rtpengine.Recording) string {
	if u.cfg.RecordBaseURL != "" {
		return fmt.Sprintf("%s/%s.wav", u.cfg.RecordBaseURL, res.Name)
	}
	return res.Path
}

// bridgeHandle is the telephony-facing view of an RTP bridge.
type bridgeHandle struct {
	id   string
	kind telephony.BridgeKind
}

var _ telephony.Bridge = (*bridgeHandle)(nil)

func (b *bridgeHandle) ID() string                 { return b.id }
func (b *bridgeHandle) Kind() telephony.BridgeKind { return b.kind }

func bridgeKindOf(kind telephony.BridgeKind) rtpengine.BridgeKind {
	if kind == telephony.BridgeHolding {
		return rtpengine.BridgeHolding
	}
	return rtpengine.BridgeMixing
}

// CreateBridge allocates a new RTP bridge.
func (u *UA) CreateBridge(ctx context.Context, kind telephony.BridgeKind) (telephony.Bridge, error) {
	id := uuid.New().String()
	b := rtpengine.NewBridge(id, bridgeKindOf(kind), u.logger)

	u.mu.Lock()
	u.bridges[id] = b
	u.mu.Unlock()

	u.logger.Info("[SIP] Bridge created", "bridgeID", id, "kind", kind)
	return &bridgeHandle{id: id, kind: kind}, nil
}

// AddToBridge joins legs' media sessions to the bridge.
func (u *UA) AddToBridge(ctx context.Context, tb telephony.Bridge, legs ...telephony.Leg) error {
	b, err := u.resolveBridge(tb)
	if err != nil {
		return err
	}
	for _, tl := range legs {
		l, err := u.resolveLeg(tl)
		if err != nil {
			return err
		}
		if l.gone() {
			return telephony.ErrLegGone
		}
		b.Add(l.session)
	}
	return nil
}

// RemoveFromBridge takes legs out of the bridge.
func (u *UA) RemoveFromBridge(ctx context.Context, tb telephony.Bridge, legs ...telephony.Leg) error {
	b, err := u.resolveBridge(tb)
	if err != nil {
		return err
	}
	for _, tl := range legs {
		l, err := u.resolveLeg(tl)
		if err != nil {
			return err
		}
		b.Remove(l.session)
	}
	return nil
}

// DestroyBridge tears the bridge down. Already-gone bridges succeed.
func (u *UA) DestroyBridge(ctx context.Context, tb telephony.Bridge) error {
	u.mu.Lock()
	b, ok := u.bridges[tb.ID()]
	delete(u.bridges, tb.ID())
	u.mu.Unlock()
	if !ok {
		return nil
	}
	b.Destroy()
	return nil
}

// Bridges lists the currently allocated bridges.
func (u *UA) Bridges(ctx context.Context) ([]telephony.Bridge, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]telephony.Bridge, 0, len(u.bridges))
	for _, b := range u.bridges {
		kind := telephony.BridgeMixing
		if b.Kind() == rtpengine.BridgeHolding {
			kind = telephony.BridgeHolding
		}
		out = append(out, &bridgeHandle{id: b.ID(), kind: kind})
	}
	return out, nil
}

// StartMusic loops the configured hold music at the bridge's members.
func (u *UA) StartMusic(ctx context.Context, tb telephony.Bridge) error {
	b, err := u.resolveBridge(tb)
	if err != nil {
		return err
	}
	if u.cfg.MusicPath == "" {
		u.logger.Warn("[SIP] No hold music configured", "bridgeID", tb.ID())
		return nil
	}
	b.StartMusic(ctx, u.cfg.MusicPath)
	return nil
}

// StopMusic silences the bridge's hold music.
func (u *UA) StopMusic(ctx context.Context, tb telephony.Bridge) error {
	b, err := u.resolveBridge(tb)
	if err != nil {
		return err
	}
	b.StopMusic()
	return nil
}

func (u *UA) resolveLeg(tl telephony.Leg) (*leg, error) {
	l, ok := tl.(*leg)
	if !ok {
		return nil, fmt.Errorf("leg %s does not belong to this adapter", tl.ID())
	}
	return l, nil
}

func (u *UA) resolveBridge(tb telephony.Bridge) (*rtpengine.Bridge, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	b, ok := u.bridges[tb.ID()]
	if !ok {
		return nil, telephony.ErrBridgeGone
	}
	return b, nil
}
