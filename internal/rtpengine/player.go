package rtpengine

import (
	"context"
	"strings"
	"sync"
)

// Player tracks one in-progress playback on a session.
type Player struct {
	done chan error
	stop chan struct{}
	once sync.Once
}

// Done yields the playback result exactly once: nil on completion or
// stop, non-nil on a streaming failure.
func (p *Player) Done() <-chan error { return p.done }

// Stop interrupts the playback. Safe to call more than once.
func (p *Player) Stop() {
	p.once.Do(func() { close(p.stop) })
}

func (p *Player) finish(err error) {
	select {
	case p.done <- err:
	default:
	}
}

// Play streams media on the session. A "digits:" reference generates
// DTMF tones; anything else is a WAV file path.
func Play(ctx context.Context, s *Session, media string) (*Player, error) {
	if digits, ok := strings.CutPrefix(media, "digits:"); ok {
		return playDigits(ctx, s, digits), nil
	}

	ulaw, err := LoadPrompt(media)
	if err != nil {
		return nil, err
	}

	p := &Player{done: make(chan error, 1), stop: make(chan struct{})}
	go func() {
		frame := PCMU.BytesPerFrame()
		for off := 0; off < len(ulaw); off += frame {
			select {
			case <-p.stop:
				p.finish(nil)
				return
			case <-ctx.Done():
				p.finish(nil)
				return
			default:
			}

			end := off + frame
			if end > len(ulaw) {
				end = len(ulaw)
			}
			if err := s.writer.WriteFrame(ulaw[off:end], off == 0); err != nil {
				p.finish(err)
				return
			}
		}
		p.finish(nil)
	}()
	return p, nil
}

func playDigits(ctx context.Context, s *Session, digits string) *Player {
	p := &Player{done: make(chan error, 1), stop: make(chan struct{})}
	sctx, cancel := context.WithCancel(ctx)
	go func() {
		<-p.stop
		cancel()
	}()
	go func() {
		defer cancel()
		err := SendDigits(sctx, s.writer, digits)
		if sctx.Err() != nil {
			err = nil
		}
		p.finish(err)
		p.Stop()
	}()
	return p
}
