package flow

import (
	"context"
	"strings"
	"time"
)

// gather collects digits from the caller. Nested Say and Play actions
// are announced first and any digit interrupts them; collection then
// waits until numDigits is reached, the finish key arrives, or the
// timeout fires. A non-empty result is posted to the action
// URL as Digits and the response becomes the new chain; an empty result
// falls through to the next action.
func (e *Engine) gather(ctx context.Context, call *Call, act *Action) (Outcome, error) {
	if call.HungUp() {
		return OutcomeTerminated, nil
	}

	timeout := act.ParamSeconds("timeout", 5*time.Second)
	finishKey := act.Param("finishOnKey", "#")
	numDigits := act.ParamInt("numDigits", 0)

	// Stale digits from before the Gather are discarded unless the
	// script opts out.
	if act.ParamBool("clear", true) {
		call.ClearDigits()
	}

	digitC := make(chan rune, 16)
	call.SubscribeDigits(digitC)
	defer call.UnsubscribeDigits(digitC)

	e.announce(ctx, call, act, digitC)
	if call.HungUp() {
		return OutcomeTerminated, nil
	}

	e.collect(ctx, call, digitC, numDigits, finishKey, timeout)

	digits := call.TakeDigits()
	if finishKey != "" {
		digits = strings.TrimRight(digits, finishKey)
	}

	if call.HungUp() {
		return OutcomeTerminated, nil
	}

	e.logger.Debug("[Engine] Gather complete",
		"callID", call.SID(), "digits", digits)

	if digits == "" {
		return OutcomeAdvance, nil
	}

	form := call.FormValues()
	form.Set("Digits", digits)
	target := act.Param("action", "")
	return e.loadContinuation(ctx, call, act.Param("method", "POST"), target, form)
}

// announce plays the Gather's nested prompts in order, stopping as soon
// as the caller types anything. Verbs other than Say and Play are not
// playable inside a Gather and are skipped. Prompts share the Gather's
// digit subscription, so an interrupting keypress is still counted by
// the collection phase via the call's digit buffer.
func (e *Engine) announce(ctx context.Context, call *Call, act *Action, digitC <-chan rune) {
	for i := range act.Children {
		child := &act.Children[i]
		if call.HungUp() || call.DigitCount() > 0 {
			return
		}
		if child.Name != "Say" && child.Name != "Play" {
			e.logger.Warn("[Engine] Verb not allowed in Gather",
				"callID", call.SID(), "verb", child.Name)
			continue
		}

		media, err := e.mediaForAction(ctx, call, child)
		if err != nil {
			e.logger.Warn("[Engine] Media unavailable",
				"callID", call.SID(), "verb", child.Name, "error", err)
			continue
		}

		loop := child.ParamInt("loop", 1)
		for n := 0; loop <= 0 || n < loop; n++ {
			interrupted, err := e.playOnce(ctx, call, media, allDigits, digitC)
			if err != nil {
				e.logger.Warn("[Engine] Playback failed",
					"callID", call.SID(), "media", media, "error", err)
				break
			}
			if interrupted || call.HungUp() || call.DigitCount() > 0 {
				break
			}
		}
	}
}

// collect blocks until the gather is satisfied: the buffer ends with
// the finish key, holds numDigits digits, or the timeout fires. The
// timer covers the whole collection; digit arrivals do not extend it.
// Satisfaction is judged on the call's digit buffer rather than on
// channel deliveries, so digits that arrived during prompts count.
func (e *Engine) collect(ctx context.Context, call *Call, digitC <-chan rune, numDigits int, finishKey string, timeout time.Duration) {
	satisfied := func() bool {
		digits := call.Digits()
		if finishKey != "" && digits != "" &&
			strings.ContainsRune(finishKey, rune(digits[len(digits)-1])) {
			return true
		}
		return numDigits > 0 && len(digits) >= numDigits
	}

	if satisfied() {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-digitC:
			if satisfied() {
				return
			}
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}
