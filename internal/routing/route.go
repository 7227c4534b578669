package routing

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Route maps a dialed number pattern to the application that serves its
// call scripts.
type Route struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Pattern  string `json:"pattern"`  // Exact match, "prefix*" for prefix, or "*" for default
	Priority int    `json:"priority"` // Lower = higher priority (0 = highest)
	Enabled  bool   `json:"enabled"`

	// URL serves the initial script for calls matching this route.
	URL    string `json:"url"`
	Method string `json:"method"`

	// Compiled pattern info (not exported, built on validation)
	isDefault bool
	isPrefix  bool
	prefix    string
	exact     string
}

// Validate checks the route configuration and compiles the pattern.
func (r *Route) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("route ID required")
	}
	if r.Pattern == "" {
		return fmt.Errorf("pattern required")
	}
	if r.URL == "" {
		return fmt.Errorf("application URL required")
	}
	if _, err := url.Parse(r.URL); err != nil {
		return fmt.Errorf("application URL: %w", err)
	}
	switch strings.ToUpper(r.Method) {
	case "", "GET", "POST":
	default:
		return fmt.Errorf("method must be GET or POST, got %q", r.Method)
	}

	// Compile pattern
	if r.Pattern == "*" {
		r.isDefault = true
	} else if strings.HasSuffix(r.Pattern, "*") {
		r.isPrefix = true
		r.prefix = strings.TrimSuffix(r.Pattern, "*")
	} else {
		r.exact = r.Pattern
	}

	return nil
}

// Match checks if a dialed number matches this route's pattern.
func (r *Route) Match(number string) bool {
	if !r.Enabled {
		return false
	}

	if r.isDefault {
		return true
	}
	if r.isPrefix {
		return strings.HasPrefix(number, r.prefix)
	}
	return number == r.exact
}

// FetchMethod returns the HTTP method for the initial script fetch.
func (r *Route) FetchMethod() string {
	if r.Method == "" {
		return "GET"
	}
	return strings.ToUpper(r.Method)
}

// RouteList is a sortable list of routes by priority.
type RouteList []*Route

func (r RouteList) Len() int           { return len(r) }
func (r RouteList) Less(i, j int) bool { return r[i].Priority < r[j].Priority }
func (r RouteList) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }

// Sort sorts routes by priority (lower = higher priority).
func (r RouteList) Sort() {
	sort.Sort(r)
}

// Match finds the first matching route for a dialed number.
func (r RouteList) Match(number string) (*Route, bool) {
	for _, route := range r {
		if route.Match(number) {
			return route, true
		}
	}
	return nil, false
}
