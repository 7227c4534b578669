package rtpengine

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sessionPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	a, err := NewSession("127.0.0.1", discardLogger())
	if err != nil {
		t.Fatalf("NewSession(a) error = %v", err)
	}
	t.Cleanup(func() { a.Close() })

	b, err := NewSession("127.0.0.1", discardLogger())
	if err != nil {
		t.Fatalf("NewSession(b) error = %v", err)
	}
	t.Cleanup(func() { b.Close() })

	a.SetRemote("127.0.0.1", b.LocalAddr().Port)
	b.SetRemote("127.0.0.1", a.LocalAddr().Port)
	return a, b
}

func TestSessionDeliversSentDigits(t *testing.T) {
	a, b := sessionPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		_ = SendDigits(ctx, a.Writer(), "4#")
	}()

	var got []rune
	for len(got) < 2 {
		select {
		case d := <-b.Digits():
			got = append(got, d)
		case <-ctx.Done():
			t.Fatalf("timed out, received %q so far", string(got))
		}
	}
	if string(got) != "4#" {
		t.Errorf("digits = %q, want 4#", string(got))
	}
}

func TestPlayReachesPeerSink(t *testing.T) {
	a, b := sessionPair(t)

	// 100ms prompt.
	pcm := make([]byte, 800*2)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "prompt.wav")
	if err := writeWAV(path, pcm); err != nil {
		t.Fatalf("writeWAV() error = %v", err)
	}

	received := make(chan []byte, 64)
	b.setSink(func(payload []byte) {
		select {
		case received <- payload:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	player, err := Play(ctx, a, path)
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	select {
	case err := <-player.Done():
		if err != nil {
			t.Fatalf("playback error = %v", err)
		}
	case <-ctx.Done():
		t.Fatal("playback did not finish")
	}

	select {
	case frame := <-received:
		if len(frame) == 0 || len(frame) > PCMU.BytesPerFrame() {
			t.Errorf("frame size = %d, want 1..%d", len(frame), PCMU.BytesPerFrame())
		}
	case <-time.After(time.Second):
		t.Fatal("no audio reached the peer")
	}
}

func TestPlayerStopInterrupts(t *testing.T) {
	a, _ := sessionPair(t)

	// 10s prompt that will be cut off.
	pcm := make([]byte, 80000*2)
	path := filepath.Join(t.TempDir(), "long.wav")
	if err := writeWAV(path, pcm); err != nil {
		t.Fatalf("writeWAV() error = %v", err)
	}

	player, err := Play(context.Background(), a, path)
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	player.Stop()

	select {
	case err := <-player.Done():
		if err != nil {
			t.Errorf("stopped playback error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stopped playback never finished")
	}
}

func TestRecorderCapturesAudio(t *testing.T) {
	a, b := sessionPair(t)

	pcm := make([]byte, 800*2)
	for i := 0; i < 800; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i*3)))
	}
	path := filepath.Join(t.TempDir(), "src.wav")
	if err := writeWAV(path, pcm); err != nil {
		t.Fatalf("writeWAV() error = %v", err)
	}

	dir := t.TempDir()
	rec := RecordSession(context.Background(), b, RecorderParams{
		Name:        "capture",
		Dir:         dir,
		MaxDuration: 2 * time.Second,
	}, nil)

	player, err := Play(context.Background(), a, path)
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	<-player.Done()
	time.Sleep(50 * time.Millisecond)
	rec.Stop()

	var res Recording
	select {
	case res = <-rec.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("recorder never finished")
	}
	if res.Err != nil {
		t.Fatalf("recording error = %v", res.Err)
	}
	if res.Path != filepath.Join(dir, "capture.wav") {
		t.Errorf("path = %q", res.Path)
	}

	ulaw, err := LoadPrompt(res.Path)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	if len(ulaw) == 0 {
		t.Error("recording is empty")
	}
}

func TestBridgeForwardsBetweenMembers(t *testing.T) {
	a, b := sessionPair(t)
	c, d := sessionPair(t)
	_ = a
	_ = c

	br := NewBridge("bridge-1", BridgeMixing, discardLogger())
	br.Add(b)
	br.Add(d)
	defer br.Destroy()

	if got := br.Members(); got != 2 {
		t.Fatalf("Members() = %d, want 2", got)
	}

	// Audio arriving at b must be relayed out to d's remote (c).
	received := make(chan []byte, 64)
	// c hears what d sends.
	cSink := func(payload []byte) {
		select {
		case received <- payload:
		default:
		}
	}
	c.setSink(cSink)

	pcm := make([]byte, 800*2)
	path := filepath.Join(t.TempDir(), "voice.wav")
	if err := writeWAV(path, pcm); err != nil {
		t.Fatalf("writeWAV() error = %v", err)
	}
	player, err := Play(context.Background(), a, path)
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	<-player.Done()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("bridged audio never crossed")
	}

	br.Remove(b)
	if got := br.Members(); got != 1 {
		t.Errorf("Members() after remove = %d, want 1", got)
	}
}
