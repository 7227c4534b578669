// Package fetch retrieves script documents from the application server
// over HTTP. Call state travels as form fields: appended to the query
// string on GET, urlencoded in the body on POST.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxDocumentSize bounds a script document read.
const maxDocumentSize = 1 << 20

// Client fetches scripts from application URLs.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// New creates a fetch client. A zero timeout means no timeout.
func New(timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Fetch performs the request and returns the response body. Any status
// outside 2xx is an error.
func (c *Client) Fetch(ctx context.Context, method, rawURL string, form url.Values) ([]byte, error) {
	req, err := c.buildRequest(ctx, method, rawURL, form)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("[Fetch] Requesting script", "method", req.Method, "url", rawURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", rawURL, err)
	}
	return body, nil
}

func (c *Client) buildRequest(ctx context.Context, method, rawURL string, form url.Values) (*http.Request, error) {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL,
			strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	case http.MethodGet, "":
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		for k, vs := range form {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	default:
		return nil, fmt.Errorf("unsupported fetch method %q", method)
	}
}
