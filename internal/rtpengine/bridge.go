package rtpengine

import (
	"context"
	"log/slog"
	"sync"
)

// BridgeKind selects bridge behavior.
type BridgeKind string

const (
	// BridgeMixing relays audio between its two member sessions.
	BridgeMixing BridgeKind = "mixing"

	// BridgeHolding parks members and can loop hold music to them.
	BridgeHolding BridgeKind = "holding"
)

// Bridge joins sessions' audio. A mixing bridge wires each member's
// inbound packets to the other's writer; with two parties that is a
// full mix. A holding bridge keeps members detached from each other
// and optionally loops music at them.
type Bridge struct {
	id     string
	kind   BridgeKind
	logger *slog.Logger

	mu        sync.Mutex
	members   []*Session
	music     []*Player
	musicPath string
	destroyed bool
}

// NewBridge creates an empty bridge.
func NewBridge(id string, kind BridgeKind, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{id: id, kind: kind, logger: logger}
}

// ID returns the bridge identifier.
func (b *Bridge) ID() string { return b.id }

// Kind returns the bridge behavior.
func (b *Bridge) Kind() BridgeKind { return b.kind }

// Add joins a session to the bridge. On a mixing bridge the first two
// members are cross-wired.
func (b *Bridge) Add(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}
	b.members = append(b.members, s)
	b.rewireLocked()
	b.logger.Debug("[Bridge] Member added", "bridgeID", b.id, "members", len(b.members))
}

// Remove takes a session out of the bridge and unwires it.
func (b *Bridge) Remove(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.members {
		if m == s {
			b.members = append(b.members[:i], b.members[i+1:]...)
			break
		}
	}
	s.setPeer(nil)
	b.rewireLocked()
	b.logger.Debug("[Bridge] Member removed", "bridgeID", b.id, "members", len(b.members))
}

// rewireLocked re-establishes forwarding between the first two members
// of a mixing bridge.
func (b *Bridge) rewireLocked() {
	if b.kind != BridgeMixing {
		return
	}
	for _, m := range b.members {
		m.setPeer(nil)
	}
	if len(b.members) >= 2 {
		a, c := b.members[0], b.members[1]
		a.setPeer(c)
		c.setPeer(a)
	}
}

// StartMusic loops the WAV file at every current member of a holding
// bridge until StopMusic or Destroy.
func (b *Bridge) StartMusic(ctx context.Context, path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed || b.kind != BridgeHolding {
		return
	}
	b.musicPath = path
	for _, m := range b.members {
		b.startMusicLocked(ctx, m)
	}
}

func (b *Bridge) startMusicLocked(ctx context.Context, s *Session) {
	p, err := Play(ctx, s, b.musicPath)
	if err != nil {
		b.logger.Warn("[Bridge] Hold music failed",
			"bridgeID", b.id, "path", b.musicPath, "error", err)
		return
	}
	b.music = append(b.music, p)

	// Loop: when one pass completes, start the next unless stopped.
	go func() {
		for {
			if err := <-p.Done(); err != nil {
				return
			}
			b.mu.Lock()
			if b.destroyed || b.musicPath == "" {
				b.mu.Unlock()
				return
			}
			next, err := Play(ctx, s, b.musicPath)
			if err != nil {
				b.mu.Unlock()
				return
			}
			b.music = append(b.music, next)
			b.mu.Unlock()
			p = next
		}
	}()
}

// StopMusic ends hold music for all members.
func (b *Bridge) StopMusic() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.musicPath = ""
	for _, p := range b.music {
		p.Stop()
	}
	b.music = nil
}

// Destroy unwires every member. Member sessions stay open; their legs
// own their lifecycle.
func (b *Bridge) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.musicPath = ""
	for _, p := range b.music {
		p.Stop()
	}
	b.music = nil
	for _, m := range b.members {
		m.setPeer(nil)
	}
	b.members = nil
	b.logger.Debug("[Bridge] Destroyed", "bridgeID", b.id)
}

// Members returns the current member count.
func (b *Bridge) Members() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.members)
}
