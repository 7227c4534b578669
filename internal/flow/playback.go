package flow

import (
	"context"
	"errors"
	"strings"
)

// allDigits matches any touch-tone key, used when a digit of any kind
// should interrupt playback (nested Gather prompts).
const allDigits = "0123456789*#ABCD"

// playback handles both Say and Play. Media is resolved through the
// speech or audio provider, played the requested number of times, and
// optionally interrupted by the digits named in termDigits.
func (e *Engine) playback(ctx context.Context, call *Call, act *Action) (Outcome, error) {
	if call.HungUp() {
		return OutcomeTerminated, nil
	}

	media, err := e.mediaForAction(ctx, call, act)
	if err != nil {
		e.logger.Warn("[Engine] Media unavailable",
			"callID", call.SID(), "verb", act.Name, "error", err)
		if call.HungUp() {
			return OutcomeTerminated, nil
		}
		return OutcomeAdvance, nil
	}

	term := act.Param("termDigits", "")
	var digitC chan rune
	if term != "" {
		digitC = make(chan rune, 16)
		call.SubscribeDigits(digitC)
		defer call.UnsubscribeDigits(digitC)
	}

	loop := act.ParamInt("loop", 1)
	for i := 0; loop <= 0 || i < loop; i++ {
		interrupted, err := e.playOnce(ctx, call, media, term, digitC)
		if err != nil {
			e.logger.Warn("[Engine] Playback failed",
				"callID", call.SID(), "media", media, "error", err)
			break
		}
		if interrupted || call.HungUp() {
			break
		}
	}

	if call.HungUp() {
		return OutcomeTerminated, nil
	}
	return OutcomeAdvance, nil
}

// playOnce plays the media a single time on the active leg and blocks
// until it completes, is interrupted by a digit in term, or the call
// ends. The caller owns the digit subscription.
func (e *Engine) playOnce(ctx context.Context, call *Call, media, term string, digitC <-chan rune) (bool, error) {
	pb, err := e.cfg.Adapter.Play(ctx, call.ActiveLeg(), media)
	if err != nil {
		return false, err
	}

	for {
		select {
		case err := <-pb.Done():
			return false, err
		case d := <-digitC:
			if strings.ContainsRune(term, d) {
				_ = pb.Stop(ctx)
				return true, nil
			}
		case <-ctx.Done():
			_ = pb.Stop(context.Background())
			return false, nil
		}
	}
}

// mediaForAction resolves the playable reference for a Say or Play
// action: rendered speech for Say, a cached (or pass-through) media URL
// for Play. Play also accepts a digits parameter that generates DTMF
// tones in place of fetched audio.
func (e *Engine) mediaForAction(ctx context.Context, call *Call, act *Action) (string, error) {
	switch act.Name {
	case "Say":
		if act.Value == "" {
			return "", errors.New("nothing to say")
		}
		if e.cfg.Speech == nil {
			return "say:" + act.Value, nil
		}
		return e.cfg.Speech.Render(ctx, act.Value, act.Param("voice", "slt"))
	default: // Play
		if digits := act.Param("digits", ""); digits != "" && act.Value == "" {
			return "digits:" + digits, nil
		}
		if act.Value == "" {
			return "", errors.New("no media URL")
		}
		u, err := call.ResolveURL(act.Value)
		if err != nil {
			return "", err
		}
		if e.cfg.Audio == nil {
			return u.String(), nil
		}
		return e.cfg.Audio.Fetch(ctx, u.String())
	}
}
