package audiocache

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("RIFFfake-wav-bytes"))
	}))
	defer srv.Close()

	cache, err := New(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	url := srv.URL + "/greeting.wav"
	first, err := cache.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	second, err := cache.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("Fetch() second error = %v", err)
	}

	if first != second {
		t.Errorf("paths differ: %q vs %q", first, second)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}

	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read cached file: %v", err)
	}
	if string(data) != "RIFFfake-wav-bytes" {
		t.Errorf("cached bytes = %q", data)
	}
}

func TestFetchDistinctURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	cache, err := New(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	a, err := cache.Fetch(context.Background(), srv.URL+"/a.wav")
	if err != nil {
		t.Fatalf("Fetch(a) error = %v", err)
	}
	b, err := cache.Fetch(context.Background(), srv.URL+"/b.wav")
	if err != nil {
		t.Fatalf("Fetch(b) error = %v", err)
	}
	if a == b {
		t.Errorf("distinct URLs share cache path %q", a)
	}
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cache, err := New(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := cache.Fetch(context.Background(), srv.URL+"/missing.wav"); err == nil {
		t.Fatal("Fetch() error = nil, want status error")
	}
	// A failed download must not leave a cache entry behind.
	if _, err := os.Stat(cache.localPath(srv.URL + "/missing.wav")); err == nil {
		t.Error("failed download left a cache file")
	}
}
