// Package audiocache downloads remote media referenced by Play verbs
// and caches the files on disk, keyed by URL digest, so repeated plays
// of the same prompt never re-fetch.
package audiocache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"
)

// Cache is a disk-backed media cache.
type Cache struct {
	dir    string
	http   *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// New creates the cache directory if needed.
func New(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{
		dir:      dir,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		inflight: make(map[string]chan struct{}),
	}, nil
}

// Fetch returns a local path for the media URL, downloading on a cache
// miss. Concurrent fetches of the same URL share one download.
func (c *Cache) Fetch(ctx context.Context, mediaURL string) (string, error) {
	local := c.localPath(mediaURL)

	for {
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}

		c.mu.Lock()
		wait, busy := c.inflight[local]
		if busy {
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		done := make(chan struct{})
		c.inflight[local] = done
		c.mu.Unlock()

		err := c.download(ctx, mediaURL, local)

		c.mu.Lock()
		delete(c.inflight, local)
		close(done)
		c.mu.Unlock()

		if err != nil {
			return "", err
		}
		return local, nil
	}
}

func (c *Cache) localPath(mediaURL string) string {
	sum := md5.Sum([]byte(mediaURL))
	ext := path.Ext(mediaURL)
	if ext == "" || len(ext) > 5 {
		ext = ".wav"
	}
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+ext)
}

// download writes to a temp file first so a cache hit never sees a
// partial body.
func (c *Cache) download(ctx context.Context, mediaURL, local string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return fmt.Errorf("download %s: %w", mediaURL, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", mediaURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("download %s: unexpected status %d", mediaURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(c.dir, "download-*")
	if err != nil {
		return fmt.Errorf("download %s: %w", mediaURL, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", mediaURL, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("download %s: %w", mediaURL, err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return fmt.Errorf("download %s: %w", mediaURL, err)
	}

	c.logger.Debug("[AudioCache] Cached media", "url", mediaURL, "path", local)
	return nil
}
