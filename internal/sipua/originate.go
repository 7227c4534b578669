package sipua

import (
	"context"
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/aria/internal/rtpengine"
	"github.com/sebas/aria/internal/telephony"
)

const defaultOriginateTimeout = 30 * time.Second

// Originate sends an INVITE toward the destination and returns the new
// leg immediately; answer and failure are signaled on the leg's
// channels while the transaction runs in the background.
func (u *UA) Originate(ctx context.Context, req telephony.OriginateRequest) (telephony.Leg, error) {
	var target sip.Uri
	if err := sip.ParseUri(req.Destination, &target); err != nil {
		return nil, fmt.Errorf("%w: parse destination %q: %v", telephony.ErrOriginateFailed, req.Destination, err)
	}

	session, err := rtpengine.NewSession(u.cfg.BindIP, u.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: open media session: %v", telephony.ErrOriginateFailed, err)
	}

	callID := generateCallID()
	callerID := req.CallerID
	if callerID == "" {
		callerID = "aria"
	}

	l := newLeg(callID, callerID, target.User, session)
	l.outbound = true
	l.localTag = generateTag()

	invite, err := u.buildINVITE(l, target, callerID)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: %v", telephony.ErrOriginateFailed, err)
	}
	l.invite = invite

	tx, err := u.client.TransactionRequest(context.WithoutCancel(ctx), invite)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: send INVITE: %v", telephony.ErrOriginateFailed, err)
	}

	u.registerLeg(l)
	u.logger.Info("[SIP] Originating", "callID", callID, "destination", req.Destination)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultOriginateTimeout
	}
	go u.awaitAnswer(ctx, l, invite, tx, timeout)

	return l, nil
}

func (u *UA) buildINVITE(l *leg, target sip.Uri, callerID string) (*sip.Request, error) {
	invite := sip.NewRequest(sip.INVITE, target)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	from := &sip.FromHeader{
		Address: sip.Uri{User: callerID, Host: u.cfg.AdvertiseIP, Port: u.cfg.Port},
		Params:  sip.NewParams(),
	}
	from.Params.Add("tag", l.localTag)
	invite.AppendHeader(from)
	invite.AppendHeader(&sip.ToHeader{Address: target})

	callIDHdr := sip.CallIDHeader(l.id)
	invite.AppendHeader(&callIDHdr)
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	invite.AppendHeader(&sip.ContactHeader{Address: u.contactURI()})

	body, err := buildSDP(u.cfg.AdvertiseIP, l.session.LocalAddr().Port)
	if err != nil {
		return nil, fmt.Errorf("build sdp offer: %w", err)
	}
	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody(body)

	l.cseq.Store(1)
	return invite, nil
}

// awaitAnswer drives the INVITE client transaction to completion.
func (u *UA) awaitAnswer(ctx context.Context, l *leg, invite *sip.Request, tx sip.ClientTransaction, timeout time.Duration) {
	defer tx.Terminate()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	fail := func() {
		u.unregisterLeg(l.id)
		l.destroy()
	}

	for {
		select {
		case resp := <-tx.Responses():
			if resp == nil {
				fail()
				return
			}
			switch {
			case resp.StatusCode < 200:
				u.logger.Debug("[SIP] Provisional response",
					"callID", l.id, "status", resp.StatusCode)
			case resp.StatusCode < 300:
				if err := u.confirmDialog(l, invite, resp); err != nil {
					u.logger.Error("[SIP] Failed to confirm dialog", "callID", l.id, "error", err)
					fail()
					return
				}
				u.logger.Info("[SIP] Far party answered", "callID", l.id)
				l.markAnswered()
				return
			default:
				u.logger.Info("[SIP] Origination rejected",
					"callID", l.id, "status", resp.StatusCode, "reason", resp.Reason)
				fail()
				return
			}
		case <-timer.C:
			u.logger.Info("[SIP] Origination timed out", "callID", l.id)
			u.sendCANCEL(invite)
			fail()
			return
		case <-ctx.Done():
			u.sendCANCEL(invite)
			fail()
			return
		case <-tx.Done():
			fail()
			return
		}
	}
}

// confirmDialog records the dialog state from the 200 OK, points media
// at the answered SDP, and sends the ACK.
func (u *UA) confirmDialog(l *leg, invite *sip.Request, resp *sip.Response) error {
	addr, port, err := parseSDP(resp.Body())
	if err != nil {
		return fmt.Errorf("answer sdp: %w", err)
	}
	l.session.SetRemote(addr, port)

	l.mu.Lock()
	if to := resp.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			l.remoteTag = tag
		}
	}
	if contact := resp.Contact(); contact != nil {
		l.remoteContact = contact.Address.String()
	}
	l.mu.Unlock()

	return u.sendACK(invite, resp)
}

// sendACK acknowledges a 2xx. Per RFC 3261 the ACK for a 2xx is a new
// transaction addressed at the contact from the response.
func (u *UA) sendACK(invite *sip.Request, resp *sip.Response) error {
	recipient := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		recipient = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, recipient)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)

	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{
			DisplayName: to.DisplayName,
			Address:     to.Address,
			Params:      to.Params,
		})
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	ack.SetDestination(resp.Source())
	return u.client.WriteRequest(ack)
}

// sendCANCEL aborts a pending INVITE transaction (RFC 3261 section 9).
func (u *UA) sendCANCEL(invite *sip.Request) {
	cancel := sip.NewRequest(sip.CANCEL, invite.Recipient)
	sip.CopyHeaders("Via", invite, cancel)
	sip.CopyHeaders("From", invite, cancel)
	sip.CopyHeaders("To", invite, cancel)
	sip.CopyHeaders("Call-ID", invite, cancel)
	if cseq := invite.CSeq(); cseq != nil {
		cancel.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancel.AppendHeader(&maxFwd)

	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	tx, err := u.client.TransactionRequest(ctx, cancel)
	if err != nil {
		u.logger.Warn("[SIP] Failed to send CANCEL", "error", err)
		return
	}
	defer tx.Terminate()
	select {
	case <-tx.Responses():
	case <-tx.Done():
	case <-ctx.Done():
	}
}
