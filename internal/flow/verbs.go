package flow

import (
	"context"
	"time"

	"github.com/sebas/aria/internal/telephony"
)

// answer moves the active leg offhook. Most verbs answer implicitly via
// the adapter; the explicit verb exists for scripts that want media
// flowing before the first Play.
func (e *Engine) answer(ctx context.Context, call *Call, act *Action) (Outcome, error) {
	if call.HungUp() {
		return OutcomeTerminated, nil
	}
	if err := e.cfg.Adapter.Answer(ctx, call.ActiveLeg()); err != nil {
		e.logger.Warn("[Engine] Answer failed",
			"callID", call.SID(), "error", err)
	}
	return OutcomeAdvance, nil
}

// pause waits the requested number of seconds, cut short by hangup.
func (e *Engine) pause(ctx context.Context, call *Call, act *Action) (Outcome, error) {
	if call.HungUp() {
		return OutcomeTerminated, nil
	}
	timer := time.NewTimer(act.ParamSeconds("length", time.Second))
	defer timer.Stop()
	select {
	case <-timer.C:
		return OutcomeAdvance, nil
	case <-ctx.Done():
		return OutcomeTerminated, nil
	}
}

// reject ends an unanswered call.
func (e *Engine) reject(ctx context.Context, call *Call, act *Action) (Outcome, error) {
	return OutcomeTerminated, nil
}

// hangupVerb ends the call from the script side.
func (e *Engine) hangupVerb(ctx context.Context, call *Call, act *Action) (Outcome, error) {
	return OutcomeTerminated, nil
}

// redirect abandons the rest of the chain and continues with the
// script at the target URL.
func (e *Engine) redirect(ctx context.Context, call *Call, act *Action) (Outcome, error) {
	if call.HungUp() {
		return OutcomeTerminated, nil
	}
	if act.Value == "" {
		e.logger.Warn("[Engine] Redirect without a URL", "callID", call.SID())
		return OutcomeAdvance, nil
	}
	return e.loadContinuation(ctx, call, act.Param("method", "GET"), act.Value, call.FormValues())
}

// hold parks the active leg in the holding bridge, creating it on first
// use, and starts hold music.
func (e *Engine) hold(ctx context.Context, call *Call, act *Action) (Outcome, error) {
	if call.HungUp() {
		return OutcomeTerminated, nil
	}

	br, err := e.holdingBridge(ctx, true)
	if err != nil {
		e.logger.Warn("[Engine] Hold failed", "callID", call.SID(), "error", err)
		return OutcomeAdvance, nil
	}
	if err := e.cfg.Adapter.AddToBridge(ctx, br, call.ActiveLeg()); err != nil {
		e.logger.Warn("[Engine] Hold failed", "callID", call.SID(), "error", err)
		return OutcomeAdvance, nil
	}
	if err := e.cfg.Adapter.StartMusic(ctx, br); err != nil {
		e.logger.Warn("[Engine] Hold music failed", "callID", call.SID(), "error", err)
	}
	return OutcomeAdvance, nil
}

// unhold takes the active leg back out of the holding bridge.
func (e *Engine) unhold(ctx context.Context, call *Call, act *Action) (Outcome, error) {
	if call.HungUp() {
		return OutcomeTerminated, nil
	}

	br, err := e.holdingBridge(ctx, false)
	if err != nil {
		e.logger.Warn("[Engine] Unhold failed", "callID", call.SID(), "error", err)
		return OutcomeAdvance, nil
	}
	if br == nil {
		return OutcomeAdvance, nil
	}
	if err := e.cfg.Adapter.RemoveFromBridge(ctx, br, call.ActiveLeg()); err != nil {
		e.logger.Warn("[Engine] Unhold failed", "callID", call.SID(), "error", err)
	}
	return OutcomeAdvance, nil
}

// holdingBridge finds the shared holding bridge, optionally creating it
// when absent. Returns (nil, nil) when absent and create is false.
func (e *Engine) holdingBridge(ctx context.Context, create bool) (telephony.Bridge, error) {
	bridges, err := e.cfg.Adapter.Bridges(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range bridges {
		if b.Kind() == telephony.BridgeHolding {
			return b, nil
		}
	}
	if !create {
		return nil, nil
	}
	return e.cfg.Adapter.CreateBridge(ctx, telephony.BridgeHolding)
}

// message is accepted for script compatibility; outbound messaging is
// not wired to a carrier, so the verb logs and moves on.
func (e *Engine) message(ctx context.Context, call *Call, act *Action) (Outcome, error) {
	e.logger.Info("[Engine] Message",
		"callID", call.SID(),
		"to", act.Param("to", ""),
		"body", act.Value)
	return OutcomeAdvance, nil
}
