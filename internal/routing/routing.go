// Package routing maps dialed numbers to the applications that serve
// their call scripts. The table loads from a JSON file and supports
// live reload.
package routing

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// Config represents the JSON configuration structure.
type Config struct {
	Version string  `json:"version"`
	Routes  []Route `json:"routes"`
}

// Table provides thread-safe access to the route table. Uses
// copy-on-write semantics for lock-free reads.
type Table struct {
	routes atomic.Pointer[RouteList]
	path   string
	logger *slog.Logger
}

// New creates a Table from a JSON config file.
func New(path string, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}

	t := &Table{
		path:   path,
		logger: logger,
	}

	if err := t.Reload(); err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}

	return t, nil
}

// Match finds the first matching route for the dialed number.
// Thread-safe: uses atomic load for lock-free reads.
func (t *Table) Match(number string) (*Route, bool) {
	routes := t.routes.Load()
	if routes == nil {
		return nil, false
	}
	return routes.Match(number)
}

// Reload reloads configuration from the file.
// Thread-safe: atomic swap after successful parse.
func (t *Table) Reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	routes := make(RouteList, 0, len(cfg.Routes))
	for i := range cfg.Routes {
		route := &cfg.Routes[i]
		if err := route.Validate(); err != nil {
			return fmt.Errorf("route %d (%s): %w", i, route.ID, err)
		}
		routes = append(routes, route)
	}

	routes.Sort()

	t.routes.Store(&routes)

	t.logger.Info("[Routing] Loaded routes",
		"path", t.path,
		"count", len(routes),
		"version", cfg.Version,
	)

	return nil
}

// RouteCount returns the number of loaded routes.
func (t *Table) RouteCount() int {
	routes := t.routes.Load()
	if routes == nil {
		return 0
	}
	return len(*routes)
}
