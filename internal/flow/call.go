package flow

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/aria/internal/script"
	"github.com/sebas/aria/internal/telephony"
)

const apiVersion = "0.0.1"

// Fetcher retrieves script documents from the application server.
type Fetcher interface {
	// Fetch performs an HTTP request against the given URL. For GET the
	// form is appended to the query string; for POST it is sent
	// urlencoded in the body.
	Fetch(ctx context.Context, method, rawURL string, form url.Values) ([]byte, error)
}

// Call is the execution context for one inbound call: the current
// action chain and cursor, the participating legs, and the collected
// digit buffer. A single engine goroutine drives the call; the event
// pump goroutine feeds digits and hangup signals into it.
type Call struct {
	sid       string
	accountID string
	createdAt time.Time

	adapter telephony.Adapter
	fetcher Fetcher
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	hungup     atomic.Bool
	hangupOnce sync.Once

	mu          sync.Mutex
	baseURL     *url.URL
	actions     []Action
	current     int
	originating telephony.Leg
	dialed      telephony.Leg
	promoted    bool
	digits      []rune
	digitSub    chan rune
}

// CallConfig carries the dependencies for a new call.
type CallConfig struct {
	Leg     telephony.Leg
	Adapter telephony.Adapter
	Fetcher Fetcher
	Logger  *slog.Logger
}

// NewCall creates the execution context for an inbound leg and starts
// the event pump. The call's context is canceled when the call ends,
// whether by script completion or remote hangup.
func NewCall(parent context.Context, cfg CallConfig) *Call {
	ctx, cancel := context.WithCancel(parent)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Call{
		sid:         uuid.NewString(),
		accountID:   "aria-call",
		createdAt:   time.Now(),
		adapter:     cfg.Adapter,
		fetcher:     cfg.Fetcher,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		originating: cfg.Leg,
	}
	go c.pump()
	return c
}

// SID returns the unique call identifier.
func (c *Call) SID() string { return c.sid }

// Context is canceled when the call ends.
func (c *Call) Context() context.Context { return c.ctx }

// HungUp reports whether the call has ended.
func (c *Call) HungUp() bool { return c.hungup.Load() }

// OriginatingLeg returns the leg that started the call.
func (c *Call) OriginatingLeg() telephony.Leg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.originating
}

// DialedLeg returns the outbound leg created by Dial, if any.
func (c *Call) DialedLeg() telephony.Leg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialed
}

// SetDialed records the outbound leg created by Dial.
func (c *Call) SetDialed(leg telephony.Leg) {
	c.mu.Lock()
	c.dialed = leg
	c.mu.Unlock()
}

// PromoteDialed makes the dialed leg the one the script addresses from
// now on. Used by Dial with bridging disabled, where the continuation
// script drives the far party rather than the caller. A watcher follows
// the promoted leg so a far-side hangup still tears the call down.
func (c *Call) PromoteDialed() {
	c.mu.Lock()
	c.promoted = true
	leg := c.dialed
	c.mu.Unlock()
	if leg != nil {
		go c.watchPromoted(leg)
	}
}

// DemoteDialed reverts script addressing to the originating leg.
func (c *Call) DemoteDialed() {
	c.mu.Lock()
	c.promoted = false
	c.mu.Unlock()
}

// watchPromoted waits for the promoted leg to hang up or disappear.
// The call is demoted before the context is canceled so that teardown
// hangs up the originating leg instead of the leg that is already gone.
func (c *Call) watchPromoted(leg telephony.Leg) {
	select {
	case <-leg.HangupRequested():
	case <-leg.Destroyed():
	case <-c.ctx.Done():
		return
	}
	c.logger.Info("[Call] Promoted leg gone",
		"callID", c.sid, "legID", leg.ID())
	c.DemoteDialed()
	c.cancel()
}

// ActiveLeg returns the leg script verbs operate on: the dialed leg
// once promoted, the originating leg otherwise.
func (c *Call) ActiveLeg() telephony.Leg {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.promoted && c.dialed != nil {
		return c.dialed
	}
	return c.originating
}

// pump forwards events from the originating leg into the call: digits
// into the buffer (and the current subscriber, if any), hangup and
// destruction into call termination.
func (c *Call) pump() {
	leg := c.OriginatingLeg()
	for {
		select {
		case d, ok := <-leg.DTMF():
			if !ok {
				return
			}
			c.addDigit(d)
		case <-leg.HangupRequested():
			c.remoteHangup()
			return
		case <-leg.Destroyed():
			c.remoteHangup()
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// remoteHangup marks the call ended from the far side and unblocks any
// suspended verb via context cancellation. No signaling is sent back.
func (c *Call) remoteHangup() {
	if c.hungup.CompareAndSwap(false, true) {
		c.logger.Info("[Call] Remote hangup", "callID", c.sid)
	}
	c.cancel()
}

// Terminate ends the call: hangs up the active leg unless the remote
// side already did, and cancels the call context. Idempotent; the
// adapter hangup happens at most once per call.
func (c *Call) Terminate() {
	c.hangupOnce.Do(func() {
		if !c.hungup.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.adapter.Hangup(ctx, c.ActiveLeg()); err != nil {
				c.logger.Warn("[Call] Hangup failed", "callID", c.sid, "error", err)
			}
		}
		c.hungup.Store(true)
		c.cancel()
		c.logger.Info("[Call] Terminated",
			"callID", c.sid,
			"duration", time.Since(c.createdAt).Round(time.Millisecond))
	})
}

// addDigit appends to the digit buffer and hands the digit to the
// current subscriber without blocking the pump.
func (c *Call) addDigit(d rune) {
	c.mu.Lock()
	c.digits = append(c.digits, d)
	sub := c.digitSub
	c.mu.Unlock()

	if sub != nil {
		select {
		case sub <- d:
		default:
		}
	}
}

// SubscribeDigits installs ch as the single digit subscriber, replacing
// any previous one. At most one verb listens for digits at a time.
func (c *Call) SubscribeDigits(ch chan rune) {
	c.mu.Lock()
	c.digitSub = ch
	c.mu.Unlock()
}

// UnsubscribeDigits removes ch if it is still the installed subscriber.
func (c *Call) UnsubscribeDigits(ch chan rune) {
	c.mu.Lock()
	if c.digitSub == ch {
		c.digitSub = nil
	}
	c.mu.Unlock()
}

// Digits returns the current digit buffer contents.
func (c *Call) Digits() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.digits)
}

// DigitCount returns the number of buffered digits.
func (c *Call) DigitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.digits)
}

// TakeDigits returns the buffered digits and clears the buffer.
func (c *Call) TakeDigits() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := string(c.digits)
	c.digits = nil
	return s
}

// ClearDigits empties the digit buffer.
func (c *Call) ClearDigits() {
	c.mu.Lock()
	c.digits = nil
	c.mu.Unlock()
}

// Current returns the action at the cursor, or nil past the end.
func (c *Call) Current() *Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current >= len(c.actions) {
		return nil
	}
	return &c.actions[c.current]
}

// Advance moves the cursor to the next action and reports whether one
// exists.
func (c *Call) Advance() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	return c.current < len(c.actions)
}

// ResolveURL resolves target against the URL of the currently loaded
// script, so scripts can use relative action and media references.
func (c *Call) ResolveURL(target string) (*url.URL, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	base := c.baseURL
	c.mu.Unlock()
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u, nil
}

// LoadScript fetches a script document and replaces the action chain
// with its contents, resetting the cursor to the first action. The
// document's URL becomes the new base for relative references.
func (c *Call) LoadScript(ctx context.Context, method, target string, form url.Values) error {
	u, err := c.ResolveURL(target)
	if err != nil {
		return &FetchError{URL: target, Cause: err}
	}

	body, err := c.fetcher.Fetch(ctx, method, u.String(), form)
	if err != nil {
		return &FetchError{URL: u.String(), Cause: err}
	}

	// The fetch is a suspension point; the remote side may have hung up
	// while it was in flight.
	if c.hungup.Load() {
		return ErrCallEnded
	}

	elems, err := script.Parse(body)
	if err != nil {
		return &ScriptError{Cause: err}
	}

	actions := buildActions(elems)
	if len(actions) == 0 {
		return &ScriptError{Cause: ErrNoScript}
	}

	c.mu.Lock()
	c.actions = actions
	c.current = 0
	c.baseURL = u
	c.mu.Unlock()

	c.logger.Debug("[Call] Script loaded",
		"callID", c.sid, "url", u.String(), "actions", len(actions))
	return nil
}

// FormValues builds the call-state form sent with every script fetch.
func (c *Call) FormValues() url.Values {
	leg := c.OriginatingLeg()
	v := url.Values{}
	v.Set("CallSid", c.sid)
	v.Set("AccountSid", c.accountID)
	v.Set("From", leg.Caller())
	v.Set("To", leg.Number())
	v.Set("CallStatus", c.status())
	v.Set("ApiVersion", apiVersion)
	v.Set("Direction", "inbound")
	v.Set("ForwardedFrom", "")
	v.Set("CallerName", "")
	return v
}

func (c *Call) status() string {
	if c.hungup.Load() {
		return "completed"
	}
	return "in-progress"
}
