package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/sebas/aria/internal/telephony"
)

// fakeLeg is a channel-driven telephony.Leg the tests control directly.
type fakeLeg struct {
	id     string
	caller string
	number string

	answered  chan struct{}
	destroyed chan struct{}
	departed  chan struct{}
	hangup    chan struct{}
	dtmf      chan rune
}

var _ telephony.Leg = (*fakeLeg)(nil)

func newFakeLeg(id string) *fakeLeg {
	return &fakeLeg{
		id:        id,
		caller:    "+15551230001",
		number:    "+15551230002",
		answered:  make(chan struct{}),
		destroyed: make(chan struct{}),
		departed:  make(chan struct{}),
		hangup:    make(chan struct{}),
		dtmf:      make(chan rune, 32),
	}
}

func (l *fakeLeg) ID() string                       { return l.id }
func (l *fakeLeg) Caller() string                   { return l.caller }
func (l *fakeLeg) Number() string                   { return l.number }
func (l *fakeLeg) Answered() <-chan struct{}        { return l.answered }
func (l *fakeLeg) Destroyed() <-chan struct{}       { return l.destroyed }
func (l *fakeLeg) Departed() <-chan struct{}        { return l.departed }
func (l *fakeLeg) DTMF() <-chan rune                { return l.dtmf }
func (l *fakeLeg) HangupRequested() <-chan struct{} { return l.hangup }

func (l *fakeLeg) press(digits string) {
	for _, d := range digits {
		l.dtmf <- d
	}
}

type fakePlayback struct {
	legID string
	media string
	done  chan error
	once  sync.Once
}

var _ telephony.PlaybackHandle = (*fakePlayback)(nil)

func (p *fakePlayback) finish(err error) {
	p.once.Do(func() { p.done <- err })
}

func (p *fakePlayback) Done() <-chan error { return p.done }

func (p *fakePlayback) Stop(ctx context.Context) error {
	p.finish(nil)
	return nil
}

type fakeRecording struct {
	done chan telephony.RecordingResult
}

var _ telephony.RecordingHandle = (*fakeRecording)(nil)

func (r *fakeRecording) Done() <-chan telephony.RecordingResult { return r.done }
func (r *fakeRecording) Stop(ctx context.Context) error         { return nil }

type fakeBridge struct {
	id   string
	kind telephony.BridgeKind
}

var _ telephony.Bridge = (*fakeBridge)(nil)

func (b *fakeBridge) ID() string                 { return b.id }
func (b *fakeBridge) Kind() telephony.BridgeKind { return b.kind }

// fakeAdapter records every operation and lets tests inject legs,
// playbacks, and failures. When playAuto is set, playbacks complete as
// soon as they start; otherwise the test drives them.
type fakeAdapter struct {
	mu sync.Mutex

	answers []string
	hangups []string

	playAuto    bool
	plays       []*fakePlayback
	playStarted chan struct{}

	originated   telephony.Leg
	originateErr error

	recording *fakeRecording

	bridges          []*fakeBridge
	bridgesCreated   int
	bridgesDestroyed int
	addedLegs        []string
	removedLegs      []string
	joined           chan struct{}
	musicStarts      int
}

var _ telephony.Adapter = (*fakeAdapter)(nil)

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		playAuto:    true,
		playStarted: make(chan struct{}, 16),
		joined:      make(chan struct{}, 4),
	}
}

func (a *fakeAdapter) Answer(ctx context.Context, leg telephony.Leg) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answers = append(a.answers, leg.ID())
	return nil
}

func (a *fakeAdapter) Hangup(ctx context.Context, leg telephony.Leg) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hangups = append(a.hangups, leg.ID())
	return nil
}

func (a *fakeAdapter) Play(ctx context.Context, leg telephony.Leg, media string) (telephony.PlaybackHandle, error) {
	p := &fakePlayback{legID: leg.ID(), media: media, done: make(chan error, 1)}
	a.mu.Lock()
	a.plays = append(a.plays, p)
	auto := a.playAuto
	a.mu.Unlock()
	select {
	case a.playStarted <- struct{}{}:
	default:
	}
	if auto {
		p.finish(nil)
	}
	return p, nil
}

func (a *fakeAdapter) Record(ctx context.Context, leg telephony.Leg, p telephony.RecordParams) (telephony.RecordingHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recording == nil {
		return nil, errors.New("no recorder configured")
	}
	return a.recording, nil
}

func (a *fakeAdapter) Originate(ctx context.Context, req telephony.OriginateRequest) (telephony.Leg, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.originateErr != nil {
		return nil, a.originateErr
	}
	return a.originated, nil
}

func (a *fakeAdapter) CreateBridge(ctx context.Context, kind telephony.BridgeKind) (telephony.Bridge, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bridgesCreated++
	b := &fakeBridge{id: fmt.Sprintf("bridge-%d", a.bridgesCreated), kind: kind}
	a.bridges = append(a.bridges, b)
	return b, nil
}

func (a *fakeAdapter) AddToBridge(ctx context.Context, b telephony.Bridge, legs ...telephony.Leg) error {
	a.mu.Lock()
	for _, leg := range legs {
		a.addedLegs = append(a.addedLegs, leg.ID())
	}
	a.mu.Unlock()
	select {
	case a.joined <- struct{}{}:
	default:
	}
	return nil
}

func (a *fakeAdapter) RemoveFromBridge(ctx context.Context, b telephony.Bridge, legs ...telephony.Leg) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, leg := range legs {
		a.removedLegs = append(a.removedLegs, leg.ID())
	}
	return nil
}

func (a *fakeAdapter) DestroyBridge(ctx context.Context, b telephony.Bridge) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bridgesDestroyed++
	return nil
}

func (a *fakeAdapter) Bridges(ctx context.Context) ([]telephony.Bridge, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]telephony.Bridge, len(a.bridges))
	for i, b := range a.bridges {
		out[i] = b
	}
	return out, nil
}

func (a *fakeAdapter) StartMusic(ctx context.Context, b telephony.Bridge) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.musicStarts++
	return nil
}

func (a *fakeAdapter) StopMusic(ctx context.Context, b telephony.Bridge) error {
	return nil
}

func (a *fakeAdapter) hangupCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.hangups)
}

func (a *fakeAdapter) hangupIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.hangups...)
}

func (a *fakeAdapter) playedMedia() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.plays))
	for i, p := range a.plays {
		out[i] = p.media
	}
	return out
}

func (a *fakeAdapter) playback(i int) *fakePlayback {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i >= len(a.plays) {
		return nil
	}
	return a.plays[i]
}

type fetchRequest struct {
	method string
	url    string
	form   url.Values
}

// fakeFetcher serves canned documents keyed by URL path and records
// every request.
type fakeFetcher struct {
	mu       sync.Mutex
	docs     map[string]string
	requests []fetchRequest
}

var _ Fetcher = (*fakeFetcher)(nil)

func (f *fakeFetcher) Fetch(ctx context.Context, method, rawURL string, form url.Values) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.requests = append(f.requests, fetchRequest{method: method, url: rawURL, form: form})
	doc, ok := f.docs[u.Path]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no document for %s", u.Path)
	}
	return []byte(doc), nil
}

func (f *fakeFetcher) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeFetcher) request(i int) fetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

// newTestEnv builds an engine and a call with the /start document
// already loaded.
func newTestEnv(t *testing.T, docs map[string]string) (*Engine, *Call, *fakeLeg, *fakeAdapter, *fakeFetcher) {
	t.Helper()

	leg := newFakeLeg("leg-orig")
	adapter := newFakeAdapter()
	fetcher := &fakeFetcher{docs: docs}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	call := NewCall(context.Background(), CallConfig{
		Leg:     leg,
		Adapter: adapter,
		Fetcher: fetcher,
		Logger:  logger,
	})
	t.Cleanup(call.Terminate)

	if err := call.LoadScript(call.Context(), "GET", "http://app.test/start", call.FormValues()); err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}

	eng := New(Config{
		Adapter: adapter,
		Fetcher: fetcher,
		Trunk:   "pbx.test",
		Logger:  logger,
	})
	return eng, call, leg, adapter, fetcher
}

// runAsync starts the engine and returns a channel closed when it
// finishes.
func runAsync(eng *Engine, call *Call) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(call)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not finish in time")
	}
}

func waitSignal(t *testing.T, what string, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
