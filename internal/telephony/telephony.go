// Package telephony defines the capability set the flow engine consumes
// from the signaling platform: channel (leg) lifecycle, playback,
// recording, origination, and bridging. Implementations live elsewhere
// (internal/sipua for SIP, test fakes for the engine tests).
package telephony

import (
	"context"
	"time"
)

// Leg is one telephony channel participating in a call.
//
// Lifecycle events are exposed as channels that are closed exactly once
// when the event occurs. DTMF digits are delivered on a buffered channel
// for the lifetime of the leg.
//
// Thread Safety: all methods are safe for concurrent use.
type Leg interface {
	// ID returns the unique identifier for this leg.
	ID() string

	// Caller returns the caller number (From user part).
	Caller() string

	// Number returns the dialed number (To user part).
	Number() string

	// Answered is closed when the leg reaches an answered state.
	Answered() <-chan struct{}

	// Destroyed is closed when the underlying channel is gone
	// (hung up, rejected, or failed).
	Destroyed() <-chan struct{}

	// Departed is closed when the leg leaves the call-control
	// application. For most implementations this coincides with
	// Destroyed, but the two are distinct events on platforms where a
	// channel can be handed off elsewhere.
	Departed() <-chan struct{}

	// DTMF delivers touch-tone digits received on this leg.
	DTMF() <-chan rune

	// HangupRequested is closed when the remote party asks to end the
	// call (BYE, hangup request event).
	HangupRequested() <-chan struct{}
}

// PlaybackHandle tracks one in-progress media playback on a leg.
type PlaybackHandle interface {
	// Done yields the playback result: nil on normal completion (or
	// stop), non-nil on failure. The channel receives exactly one value.
	Done() <-chan error

	// Stop interrupts the playback. Safe to call after completion.
	Stop(ctx context.Context) error
}

// RecordingResult describes a finished recording.
type RecordingResult struct {
	Name     string
	URL      string
	Duration time.Duration
	Err      error
}

// RecordingHandle tracks one in-progress recording on a leg.
type RecordingHandle interface {
	// Done yields the recording result exactly once.
	Done() <-chan RecordingResult

	// Stop finishes the recording early. Safe to call after completion.
	Stop(ctx context.Context) error
}

// RecordParams configures a recording.
type RecordParams struct {
	Name        string
	Format      string
	MaxDuration time.Duration
	MaxSilence  time.Duration
	Beep        bool
	TerminateOn string
}

// BridgeKind selects the mixing behavior of a bridge.
type BridgeKind string

const (
	// BridgeMixing mixes the audio of all member legs.
	BridgeMixing BridgeKind = "mixing"

	// BridgeHolding parks member legs and plays hold music to them.
	BridgeHolding BridgeKind = "holding"
)

// Bridge is a server-side mixing resource joining legs' audio.
type Bridge interface {
	ID() string
	Kind() BridgeKind
}

// OriginateRequest describes an outbound call attempt.
type OriginateRequest struct {
	// Destination is the fully resolved target (e.g. "sip:1001@trunk").
	Destination string

	// CallerID is presented to the far party. Optional.
	CallerID string

	// Timeout bounds the time waiting for the far party to answer.
	Timeout time.Duration
}

// Adapter is the telephony platform capability set.
//
// Hangup and DestroyBridge must be safe to call on resources that are
// already gone; such calls are treated as no-op successes so teardown
// paths never have to care which side won the race.
type Adapter interface {
	// Answer moves the leg to an answered (offhook) state.
	Answer(ctx context.Context, leg Leg) error

	// Hangup terminates the leg. No-op if the leg is already gone.
	Hangup(ctx context.Context, leg Leg) error

	// Play starts media playback on the leg. The media string is an
	// implementation-defined reference (a local file path for the SIP
	// adapter).
	Play(ctx context.Context, leg Leg, media string) (PlaybackHandle, error)

	// Record starts recording the leg's inbound audio.
	Record(ctx context.Context, leg Leg, p RecordParams) (RecordingHandle, error)

	// Originate starts an outbound call. The returned leg signals
	// progress via its Answered/Destroyed channels; an error is
	// returned only when origination could not start at all.
	Originate(ctx context.Context, req OriginateRequest) (Leg, error)

	// CreateBridge allocates a new bridge of the given kind.
	CreateBridge(ctx context.Context, kind BridgeKind) (Bridge, error)

	// AddToBridge joins legs to a bridge.
	AddToBridge(ctx context.Context, b Bridge, legs ...Leg) error

	// RemoveFromBridge removes legs from a bridge.
	RemoveFromBridge(ctx context.Context, b Bridge, legs ...Leg) error

	// DestroyBridge tears a bridge down. No-op if already destroyed.
	DestroyBridge(ctx context.Context, b Bridge) error

	// Bridges lists the currently allocated bridges.
	Bridges(ctx context.Context) ([]Bridge, error)

	// StartMusic starts hold music on a bridge.
	StartMusic(ctx context.Context, b Bridge) error

	// StopMusic stops hold music on a bridge.
	StopMusic(ctx context.Context, b Bridge) error
}
