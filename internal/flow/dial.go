package flow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sebas/aria/internal/telephony"
)

const defaultDialTimeout = 30 * time.Second

// dial originates an outbound leg toward the target and, once answered,
// either bridges it with the caller (the default) or promotes it and
// hands control to the continuation script (bridge="false"). A failed
// origination logs and falls through to the next action.
func (e *Engine) dial(ctx context.Context, call *Call, act *Action) (Outcome, error) {
	if call.HungUp() {
		return OutcomeTerminated, nil
	}

	req := telephony.OriginateRequest{
		Destination: e.dialDestination(act.Value),
		CallerID:    act.Param("callerId", call.OriginatingLeg().Caller()),
		Timeout:     act.ParamSeconds("timeout", defaultDialTimeout),
	}

	e.logger.Info("[Engine] Dialing",
		"callID", call.SID(), "destination", req.Destination)

	dialed, err := e.cfg.Adapter.Originate(ctx, req)
	if err != nil {
		e.logger.Warn("[Engine] Origination failed",
			"callID", call.SID(), "destination", req.Destination, "error", err)
		if call.HungUp() {
			return OutcomeTerminated, nil
		}
		return OutcomeAdvance, nil
	}
	call.SetDialed(dialed)

	orig := call.OriginatingLeg()
	select {
	case <-dialed.Answered():
	case <-dialed.Destroyed():
		// Far end refused or timed out before answering; the call
		// follows it down.
		return OutcomeTerminated, nil
	case <-orig.Departed():
		_ = e.cfg.Adapter.Hangup(context.Background(), dialed)
		return OutcomeTerminated, nil
	case <-ctx.Done():
		_ = e.cfg.Adapter.Hangup(context.Background(), dialed)
		return OutcomeTerminated, nil
	}

	if err := e.cfg.Adapter.Answer(ctx, dialed); err != nil {
		e.logger.Warn("[Engine] Answer failed",
			"callID", call.SID(), "legID", dialed.ID(), "error", err)
	}

	if !act.ParamBool("bridge", true) {
		// The continuation script drives the far party from here on.
		call.PromoteDialed()
		target := act.Param("action", "")
		return e.loadContinuation(ctx, call, act.Param("method", "POST"), target, call.FormValues())
	}

	return e.joinAndWatch(ctx, call, orig, dialed)
}

// bridgeVerb joins the originating and previously dialed legs into a
// mixing bridge. It assumes an earlier non-bridging Dial created the
// second leg.
func (e *Engine) bridgeVerb(ctx context.Context, call *Call, act *Action) (Outcome, error) {
	if call.HungUp() {
		return OutcomeTerminated, nil
	}

	orig := call.OriginatingLeg()
	dialed := call.DialedLeg()
	if dialed == nil {
		e.logger.Warn("[Engine] Bridge without a dialed leg", "callID", call.SID())
		return OutcomeAdvance, nil
	}

	if err := e.cfg.Adapter.Answer(ctx, dialed); err != nil {
		e.logger.Warn("[Engine] Answer failed",
			"callID", call.SID(), "legID", dialed.ID(), "error", err)
	}

	return e.joinAndWatch(ctx, call, orig, dialed)
}

// joinAndWatch creates a mixing bridge, joins both legs, and blocks
// until one side leaves, propagating hangup to the survivor's peer and
// destroying the bridge exactly once.
func (e *Engine) joinAndWatch(ctx context.Context, call *Call, orig, dialed telephony.Leg) (Outcome, error) {
	br, err := e.cfg.Adapter.CreateBridge(ctx, telephony.BridgeMixing)
	if err != nil {
		e.logger.Warn("[Engine] Bridge creation failed",
			"callID", call.SID(), "error", err)
		return OutcomeTerminated, nil
	}

	var destroyOnce sync.Once
	destroy := func() {
		destroyOnce.Do(func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.cfg.Adapter.DestroyBridge(dctx, br); err != nil {
				e.logger.Warn("[Engine] Bridge teardown failed",
					"callID", call.SID(), "bridgeID", br.ID(), "error", err)
			}
		})
	}
	defer destroy()

	if err := e.cfg.Adapter.AddToBridge(ctx, br, orig, dialed); err != nil {
		e.logger.Warn("[Engine] Bridge join failed",
			"callID", call.SID(), "bridgeID", br.ID(), "error", err)
		_ = e.cfg.Adapter.Hangup(context.Background(), dialed)
		return OutcomeTerminated, nil
	}

	e.logger.Info("[Engine] Legs bridged",
		"callID", call.SID(), "bridgeID", br.ID(),
		"legA", orig.ID(), "legB", dialed.ID())

	select {
	case <-orig.Departed():
		_ = e.cfg.Adapter.Hangup(context.Background(), dialed)
		return OutcomeTerminated, nil
	case <-dialed.Destroyed():
		// Far party hung up; the caller follows it down. Demote first
		// so teardown addresses the caller, not the gone leg.
		call.DemoteDialed()
		destroy()
		return OutcomeTerminated, nil
	case <-dialed.Departed():
		destroy()
		if call.HungUp() {
			return OutcomeTerminated, nil
		}
		return OutcomeAdvance, nil
	case <-ctx.Done():
		// Cancellation may itself stem from the far leg going away.
		select {
		case <-dialed.Destroyed():
			call.DemoteDialed()
			destroy()
		default:
			_ = e.cfg.Adapter.Hangup(context.Background(), dialed)
		}
		return OutcomeTerminated, nil
	}
}

// dialDestination turns a script dial target into a SIP URI, routing
// bare numbers through the configured trunk.
func (e *Engine) dialDestination(number string) string {
	if strings.HasPrefix(number, "sip:") || strings.Contains(number, "@") {
		return number
	}
	if e.cfg.Trunk != "" {
		return "sip:" + number + "@" + e.cfg.Trunk
	}
	return number
}
