// Package flow interprets call scripts: it walks a call's action chain
// one verb at a time, suspending on telephony events (playback
// completion, digits, answer, hangup) and following continuation
// fetches into replacement chains. One engine instance serves all
// calls; each call is driven by its own goroutine.
package flow

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/sebas/aria/internal/telephony"
)

// Outcome tells the dispatch loop what a verb handler decided.
type Outcome int

const (
	// OutcomeAdvance moves the cursor to the next action.
	OutcomeAdvance Outcome = iota

	// OutcomeReplaced means the handler swapped in a new action chain
	// (a continuation fetch); the cursor already points at its start.
	OutcomeReplaced

	// OutcomeTerminated ends the call.
	OutcomeTerminated
)

// Handler executes one verb. It returns exactly one Outcome; the
// dispatch loop owns cursor movement and termination, so a handler
// never advances or terminates the call itself.
type Handler func(ctx context.Context, call *Call, act *Action) (Outcome, error)

// AudioProvider resolves a media URL into a playable local reference.
type AudioProvider interface {
	Fetch(ctx context.Context, mediaURL string) (string, error)
}

// SpeechProvider renders text into a playable local reference.
type SpeechProvider interface {
	Render(ctx context.Context, text, voice string) (string, error)
}

// Config carries the engine's dependencies.
type Config struct {
	Adapter telephony.Adapter
	Fetcher Fetcher
	Audio   AudioProvider
	Speech  SpeechProvider

	// Trunk is the SIP host outbound Dial targets are routed through
	// when the script gives a bare number.
	Trunk string

	Logger *slog.Logger
}

// Engine dispatches script actions to verb handlers. The handler
// registry is built once at construction and never mutated afterwards,
// so dispatch needs no locking.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	handlers map[string]Handler
}

// New builds an engine with the full verb set registered.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{cfg: cfg, logger: logger}
	e.handlers = map[string]Handler{
		"Answer":   e.answer,
		"Say":      e.playback,
		"Play":     e.playback,
		"Gather":   e.gather,
		"Pause":    e.pause,
		"Record":   e.record,
		"Dial":     e.dial,
		"Bridge":   e.bridgeVerb,
		"Hold":     e.hold,
		"Unhold":   e.unhold,
		"Reject":   e.reject,
		"Hangup":   e.hangupVerb,
		"Redirect": e.redirect,
		"Message":  e.message,
	}
	return e
}

// Run drives the call to completion. It loops over the action chain,
// invoking one handler at a time; handlers suspend internally on
// telephony events. Run returns after the call has terminated and is
// normally invoked as its own goroutine.
func (e *Engine) Run(call *Call) {
	ctx := call.Context()
	defer call.Terminate()

	for {
		if call.HungUp() {
			return
		}

		act := call.Current()
		if act == nil {
			e.logger.Info("[Engine] Script complete", "callID", call.SID())
			return
		}

		h, ok := e.handlers[act.Name]
		if !ok {
			e.logger.Warn("[Engine] Unknown verb",
				"callID", call.SID(),
				"error", &ScriptError{Verb: act.Name, Cause: ErrUnknownVerb})
			return
		}

		e.logger.Debug("[Engine] Executing",
			"callID", call.SID(), "verb", act.Name)

		outcome, err := h(ctx, call, act)
		if err != nil {
			e.logger.Warn("[Engine] Verb failed",
				"callID", call.SID(), "verb", act.Name, "error", err)
			return
		}

		switch outcome {
		case OutcomeReplaced:
			// cursor reset by LoadScript
		case OutcomeTerminated:
			return
		default:
			if !call.Advance() {
				e.logger.Info("[Engine] Script complete", "callID", call.SID())
				return
			}
		}
	}
}

// loadContinuation fetches the script at target and swaps it in,
// translating the result into the outcome the dispatch loop expects.
// Fetch or parse failures abort the call.
func (e *Engine) loadContinuation(ctx context.Context, call *Call, method, target string, form url.Values) (Outcome, error) {
	if err := call.LoadScript(ctx, method, target, form); err != nil {
		e.logger.Warn("[Engine] Continuation failed",
			"callID", call.SID(), "url", target, "error", err)
		return OutcomeTerminated, nil
	}
	return OutcomeReplaced, nil
}
