// Package tts renders Say text to speech by shelling out to the flite
// engine. Rendered prompts are cached on disk keyed by text and voice,
// so a menu replayed a thousand times synthesizes once.
package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// DefaultVoice is used when a Say verb names no voice.
const DefaultVoice = "slt"

// Engine renders text into WAV files.
type Engine struct {
	dir    string
	binary string
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// New creates the render cache directory if needed. binary is the
// flite executable; an empty string uses "flite" from PATH.
func New(dir, binary string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if binary == "" {
		binary = "flite"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tts dir: %w", err)
	}
	return &Engine{
		dir:      dir,
		binary:   binary,
		logger:   logger,
		inflight: make(map[string]chan struct{}),
	}, nil
}

// Render returns a local WAV path for the text, synthesizing on a
// cache miss. Concurrent renders of the same prompt share one
// synthesis.
func (e *Engine) Render(ctx context.Context, text, voice string) (string, error) {
	if voice == "" {
		voice = DefaultVoice
	}
	local := e.localPath(text, voice)

	for {
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}

		e.mu.Lock()
		wait, busy := e.inflight[local]
		if busy {
			e.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		done := make(chan struct{})
		e.inflight[local] = done
		e.mu.Unlock()

		err := e.synthesize(ctx, text, voice, local)

		e.mu.Lock()
		delete(e.inflight, local)
		close(done)
		e.mu.Unlock()

		if err != nil {
			return "", err
		}
		return local, nil
	}
}

func (e *Engine) localPath(text, voice string) string {
	sum := sha256.Sum256([]byte(voice + "|" + text))
	return filepath.Join(e.dir, hex.EncodeToString(sum[:16])+".wav")
}

// synthesize writes to a temp file first so a cache hit never sees a
// partial render.
func (e *Engine) synthesize(ctx context.Context, text, voice, local string) error {
	tmp, err := os.CreateTemp(e.dir, "render-*.wav")
	if err != nil {
		return fmt.Errorf("render speech: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	cmd := exec.CommandContext(ctx, e.binary, "-voice", voice, "-t", text, "-o", tmpName)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("render speech: %s: %w (%s)", e.binary, err, out)
	}

	if err := os.Rename(tmpName, local); err != nil {
		return fmt.Errorf("render speech: %w", err)
	}

	e.logger.Debug("[TTS] Rendered prompt", "voice", voice, "chars", len(text), "path", local)
	return nil
}
