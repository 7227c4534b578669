package rtpengine

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zaf/g711"
)

// Recording is a finished capture.
type Recording struct {
	Name     string
	Path     string
	Duration time.Duration
	Err      error
}

// Recorder captures a session's inbound audio to a WAV file. It stops
// on a terminator digit, sustained silence, the duration cap, or an
// explicit Stop.
type Recorder struct {
	done chan Recording
	stop chan struct{}
	once sync.Once
}

// RecorderParams configures a capture.
type RecorderParams struct {
	Name        string
	Dir         string
	MaxDuration time.Duration
	MaxSilence  time.Duration
	TerminateOn string
}

// Done yields the recording result exactly once.
func (r *Recorder) Done() <-chan Recording { return r.done }

// Stop finishes the recording early. Safe to call more than once.
func (r *Recorder) Stop() {
	r.once.Do(func() { close(r.stop) })
}

// RecordSession starts capturing. The session's inbound audio tap is
// owned by the recorder until it finishes. digits, when non-nil, feeds
// the TerminateOn check; the session's own digit channel stays with its
// usual consumer.
func RecordSession(ctx context.Context, s *Session, p RecorderParams, digits <-chan rune) *Recorder {
	r := &Recorder{done: make(chan Recording, 1), stop: make(chan struct{})}

	frames := make(chan []byte, 64)
	s.setSink(func(payload []byte) {
		select {
		case frames <- payload:
		default:
		}
	})

	go r.run(ctx, s, p, frames, digits)
	return r
}

func (r *Recorder) run(ctx context.Context, s *Session, p RecorderParams, frames chan []byte, digits <-chan rune) {
	defer s.setSink(nil)

	var ulaw []byte
	started := time.Now()

	maxTimer := time.NewTimer(p.MaxDuration)
	defer maxTimer.Stop()

	silence := time.NewTimer(p.MaxSilence)
	defer silence.Stop()
	if p.MaxSilence <= 0 {
		silence.Stop()
	}

	finish := func(err error) {
		res := Recording{
			Name:     p.Name,
			Path:     filepath.Join(p.Dir, p.Name+".wav"),
			Duration: time.Since(started).Round(time.Second),
			Err:      err,
		}
		if err == nil {
			res.Err = writeWAV(res.Path, g711.DecodeUlaw(ulaw))
		}
		r.done <- res
	}

	for {
		select {
		case frame := <-frames:
			ulaw = append(ulaw, frame...)
			if p.MaxSilence > 0 {
				if !silence.Stop() {
					select {
					case <-silence.C:
					default:
					}
				}
				silence.Reset(p.MaxSilence)
			}
		case digit := <-digits:
			if strings.ContainsRune(p.TerminateOn, digit) {
				finish(nil)
				return
			}
		case <-silence.C:
			finish(nil)
			return
		case <-maxTimer.C:
			finish(nil)
			return
		case <-r.stop:
			finish(nil)
			return
		case <-ctx.Done():
			finish(ctx.Err())
			return
		}
	}
}
