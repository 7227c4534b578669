package flow

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/aria/internal/telephony"
)

// record captures the caller's audio. When the recording finishes and
// the action has an action URL, the result is posted there as
// RecordingUrl/RecordingDuration and the response becomes the new
// chain; otherwise the script advances.
func (e *Engine) record(ctx context.Context, call *Call, act *Action) (Outcome, error) {
	if call.HungUp() {
		return OutcomeTerminated, nil
	}

	params := telephony.RecordParams{
		Name:        uuid.NewString(),
		Format:      "wav",
		MaxDuration: act.ParamSeconds("maxLength", 3600*time.Second),
		MaxSilence:  60 * time.Second,
		Beep:        act.ParamBool("playBeep", true),
		TerminateOn: act.Param("finishOnKey", "#"),
	}

	rec, err := e.cfg.Adapter.Record(ctx, call.ActiveLeg(), params)
	if err != nil {
		e.logger.Warn("[Engine] Recording failed to start",
			"callID", call.SID(), "error", err)
		return OutcomeTerminated, nil
	}

	var res telephony.RecordingResult
	select {
	case res = <-rec.Done():
	case <-ctx.Done():
		_ = rec.Stop(context.Background())
		return OutcomeTerminated, nil
	}

	if call.HungUp() {
		return OutcomeTerminated, nil
	}
	if res.Err != nil {
		e.logger.Warn("[Engine] Recording failed",
			"callID", call.SID(), "name", params.Name, "error", res.Err)
		return OutcomeAdvance, nil
	}

	e.logger.Info("[Engine] Recording finished",
		"callID", call.SID(), "name", res.Name, "duration", res.Duration)

	target := act.Param("action", "")
	if target == "" || res.URL == "" {
		return OutcomeAdvance, nil
	}

	form := call.FormValues()
	form.Set("RecordingUrl", res.URL)
	form.Set("RecordingDuration", strconv.Itoa(int(res.Duration.Seconds())))
	return e.loadContinuation(ctx, call, act.Param("method", "POST"), target, form)
}
