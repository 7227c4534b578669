package flow

import (
	"testing"
	"time"

	"github.com/sebas/aria/internal/telephony"
)

func TestDialNoBridgePromotesDialedLeg(t *testing.T) {
	eng, call, _, adapter, fetcher := newTestEnv(t, map[string]string{
		"/start": `<Response><Dial bridge="false" action="/agent">1001</Dial></Response>`,
		"/agent": `<Response><Say>connected</Say></Response>`,
	})

	dialed := newFakeLeg("leg-dialed")
	close(dialed.answered)
	adapter.mu.Lock()
	adapter.originated = dialed
	adapter.mu.Unlock()

	eng.Run(call)

	adapter.mu.Lock()
	created := adapter.bridgesCreated
	adapter.mu.Unlock()
	if created != 0 {
		t.Errorf("bridgesCreated = %d, want 0", created)
	}

	if n := fetcher.requestCount(); n != 2 {
		t.Fatalf("requestCount() = %d, want exactly 2", n)
	}
	req := fetcher.request(1)
	if req.method != "POST" {
		t.Errorf("continuation method = %q, want POST", req.method)
	}
	if req.url != "http://app.test/agent" {
		t.Errorf("continuation url = %q, want http://app.test/agent", req.url)
	}

	// The continuation script drives the promoted far leg.
	pb := adapter.playback(0)
	if pb == nil || pb.legID != "leg-dialed" {
		t.Errorf("playback leg = %v, want leg-dialed", pb)
	}
	if got := call.ActiveLeg().ID(); got != "leg-dialed" {
		t.Errorf("ActiveLeg() = %q, want leg-dialed", got)
	}
	hangups := adapter.hangupIDs()
	if len(hangups) != 1 || hangups[0] != "leg-dialed" {
		t.Errorf("hangups = %v, want [leg-dialed]", hangups)
	}
}

func TestDialPromotedLegDestroyedEndsCall(t *testing.T) {
	eng, call, _, adapter, fetcher := newTestEnv(t, map[string]string{
		"/start": `<Response><Dial bridge="false" action="/agent">1001</Dial></Response>`,
		"/agent": `<Response><Pause length="600"/></Response>`,
	})

	dialed := newFakeLeg("leg-dialed")
	close(dialed.answered)
	adapter.mu.Lock()
	adapter.originated = dialed
	adapter.mu.Unlock()

	done := runAsync(eng, call)

	// Wait for the continuation script to take over the far leg.
	deadline := time.Now().Add(2 * time.Second)
	for fetcher.requestCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("continuation was never fetched")
		}
		time.Sleep(2 * time.Millisecond)
	}

	close(dialed.destroyed)
	waitDone(t, done)

	// The far party is gone, so teardown hangs up the caller.
	hangups := adapter.hangupIDs()
	if len(hangups) != 1 || hangups[0] != "leg-orig" {
		t.Errorf("hangups = %v, want [leg-orig]", hangups)
	}
	if got := call.ActiveLeg().ID(); got != "leg-orig" {
		t.Errorf("ActiveLeg() = %q, want leg-orig after demotion", got)
	}
}

func TestBridgeVerbJoinsDialedPair(t *testing.T) {
	eng, call, _, adapter, _ := newTestEnv(t, map[string]string{
		"/start": `<Response><Dial bridge="false" action="/agent">1001</Dial></Response>`,
		"/agent": `<Response><Bridge/></Response>`,
	})

	dialed := newFakeLeg("leg-dialed")
	close(dialed.answered)
	adapter.mu.Lock()
	adapter.originated = dialed
	adapter.mu.Unlock()

	done := runAsync(eng, call)
	waitSignal(t, "bridge join", adapter.joined)
	close(dialed.destroyed)
	waitDone(t, done)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.bridgesCreated != 1 {
		t.Errorf("bridgesCreated = %d, want 1", adapter.bridgesCreated)
	}
	if adapter.bridgesDestroyed != 1 {
		t.Errorf("bridgesDestroyed = %d, want exactly 1", adapter.bridgesDestroyed)
	}
	if len(adapter.addedLegs) != 2 {
		t.Errorf("addedLegs = %v, want both legs", adapter.addedLegs)
	}
	if got := adapter.bridges[0].kind; got != "mixing" {
		t.Errorf("bridge kind = %q, want mixing", got)
	}
	// Far leg destruction hangs up the caller.
	if len(adapter.hangups) != 1 || adapter.hangups[0] != "leg-orig" {
		t.Errorf("hangups = %v, want [leg-orig]", adapter.hangups)
	}
}

func TestDialBridgesBothLegs(t *testing.T) {
	eng, call, _, adapter, _ := newTestEnv(t, map[string]string{
		"/start": `<Response><Dial>1001</Dial></Response>`,
	})

	dialed := newFakeLeg("leg-dialed")
	close(dialed.answered)
	adapter.mu.Lock()
	adapter.originated = dialed
	adapter.mu.Unlock()

	done := runAsync(eng, call)
	waitSignal(t, "bridge join", adapter.joined)
	close(dialed.destroyed)
	waitDone(t, done)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.bridgesCreated != 1 {
		t.Errorf("bridgesCreated = %d, want 1", adapter.bridgesCreated)
	}
	if adapter.bridgesDestroyed != 1 {
		t.Errorf("bridgesDestroyed = %d, want exactly 1", adapter.bridgesDestroyed)
	}
	if len(adapter.addedLegs) != 2 {
		t.Errorf("addedLegs = %v, want both legs", adapter.addedLegs)
	}
	if got := adapter.bridges[0].kind; got != "mixing" {
		t.Errorf("bridge kind = %q, want mixing", got)
	}
	// Far leg destruction hangs up the caller.
	if len(adapter.hangups) != 1 || adapter.hangups[0] != "leg-orig" {
		t.Errorf("hangups = %v, want [leg-orig]", adapter.hangups)
	}
}

func TestDialCallerDepartureHangsUpFarLeg(t *testing.T) {
	eng, call, leg, adapter, _ := newTestEnv(t, map[string]string{
		"/start": `<Response><Dial>1001</Dial></Response>`,
	})

	dialed := newFakeLeg("leg-dialed")
	close(dialed.answered)
	adapter.mu.Lock()
	adapter.originated = dialed
	adapter.mu.Unlock()

	done := runAsync(eng, call)
	waitSignal(t, "bridge join", adapter.joined)
	close(leg.departed)
	waitDone(t, done)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.bridgesDestroyed != 1 {
		t.Errorf("bridgesDestroyed = %d, want exactly 1", adapter.bridgesDestroyed)
	}
	var hungDialed bool
	for _, id := range adapter.hangups {
		if id == "leg-dialed" {
			hungDialed = true
		}
	}
	if !hungDialed {
		t.Errorf("hangups = %v, want leg-dialed hung up", adapter.hangups)
	}
}

func TestDialOriginationFailureAdvances(t *testing.T) {
	eng, call, _, adapter, fetcher := newTestEnv(t, map[string]string{
		"/start": `<Response><Dial>1001</Dial><Say>sorry</Say></Response>`,
	})

	adapter.mu.Lock()
	adapter.originateErr = telephony.ErrOriginateFailed
	adapter.mu.Unlock()

	eng.Run(call)

	got := adapter.playedMedia()
	if len(got) != 1 || got[0] != "say:sorry" {
		t.Errorf("playedMedia() = %v, want [say:sorry]", got)
	}
	adapter.mu.Lock()
	created := adapter.bridgesCreated
	adapter.mu.Unlock()
	if created != 0 {
		t.Errorf("bridgesCreated = %d, want 0", created)
	}
	if n := fetcher.requestCount(); n != 1 {
		t.Errorf("requestCount() = %d, want 1 (no continuation on failed dial)", n)
	}
}

func TestDialRejectedBeforeAnswerTerminates(t *testing.T) {
	eng, call, _, adapter, _ := newTestEnv(t, map[string]string{
		"/start": `<Response><Dial>1001</Dial><Say>never</Say></Response>`,
	})

	dialed := newFakeLeg("leg-dialed")
	close(dialed.destroyed)
	adapter.mu.Lock()
	adapter.originated = dialed
	adapter.mu.Unlock()

	eng.Run(call)

	if got := adapter.playedMedia(); len(got) != 0 {
		t.Errorf("playedMedia() = %v, want none", got)
	}
	hangups := adapter.hangupIDs()
	if len(hangups) != 1 || hangups[0] != "leg-orig" {
		t.Errorf("hangups = %v, want [leg-orig]", hangups)
	}
}

func TestDialDestination(t *testing.T) {
	eng := New(Config{Trunk: "pbx.test"})

	cases := []struct {
		in   string
		want string
	}{
		{"1001", "sip:1001@pbx.test"},
		{"sip:1001@other.host", "sip:1001@other.host"},
		{"1001@other.host", "1001@other.host"},
	}
	for _, tc := range cases {
		if got := eng.dialDestination(tc.in); got != tc.want {
			t.Errorf("dialDestination(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
