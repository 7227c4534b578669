// Package app wires the aria server together: the SIP user agent, the
// route table, the script fetcher, media providers, and the flow engine
// driving each call.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sebas/aria/internal/audiocache"
	"github.com/sebas/aria/internal/config"
	"github.com/sebas/aria/internal/fetch"
	"github.com/sebas/aria/internal/flow"
	"github.com/sebas/aria/internal/routing"
	"github.com/sebas/aria/internal/sipua"
	"github.com/sebas/aria/internal/telephony"
	"github.com/sebas/aria/internal/tts"
)

// Aria is the assembled call server.
type Aria struct {
	cfg     *config.Config
	logger  *slog.Logger
	ua      *sipua.UA
	engine  *flow.Engine
	routes  *routing.Table
	fetcher *fetch.Client
}

func NewServer(cfg *config.Config) (*Aria, error) {
	logger := slog.Default()

	routes, err := routing.New(cfg.RoutesPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}

	audio, err := audiocache.New(cfg.AudioCacheDir, logger)
	if err != nil {
		return nil, fmt.Errorf("create audio cache: %w", err)
	}
	speech, err := tts.New(cfg.TTSDir, cfg.TTSBinary, logger)
	if err != nil {
		return nil, fmt.Errorf("create speech engine: %w", err)
	}

	a := &Aria{
		cfg:     cfg,
		logger:  logger,
		routes:  routes,
		fetcher: fetch.New(cfg.FetchTimeout, logger),
	}

	ua, err := sipua.New(sipua.Config{
		BindIP:        cfg.BindAddr,
		Port:          cfg.Port,
		AdvertiseIP:   cfg.AdvertiseAddr,
		MusicPath:     cfg.MusicPath,
		RecordDir:     cfg.RecordDir,
		RecordBaseURL: cfg.RecordBaseURL,
		BeepPath:      cfg.BeepPath,
		OnInbound:     a.handleInbound,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create user agent: %w", err)
	}
	a.ua = ua

	a.engine = flow.New(flow.Config{
		Adapter: ua,
		Fetcher: a.fetcher,
		Audio:   audio,
		Speech:  speech,
		Trunk:   cfg.Trunk,
		Logger:  logger,
	})

	return a, nil
}

// Start binds the SIP socket and blocks until ctx is canceled.
func (a *Aria) Start(ctx context.Context) error {
	a.logger.Info("[App] Routes loaded", "count", a.routes.RouteCount())
	return a.ua.ListenAndServe(ctx)
}

// Close shuts the user agent down.
func (a *Aria) Close() error {
	return a.ua.Close()
}

// ReloadRoutes re-reads the route table from disk.
func (a *Aria) ReloadRoutes() error {
	return a.routes.Reload()
}

// handleInbound is invoked by the user agent for every ringing leg. It
// matches the dialed number against the route table and spins up a call
// goroutine; unmatched numbers are hung up.
func (a *Aria) handleInbound(leg telephony.Leg) {
	route, ok := a.routes.Match(leg.Number())
	if !ok {
		a.logger.Warn("[App] No route for number",
			"number", leg.Number(), "caller", leg.Caller())
		go a.ua.Hangup(context.Background(), leg)
		return
	}

	a.logger.Info("[App] Call accepted",
		"number", leg.Number(), "caller", leg.Caller(),
		"route", route.ID, "url", route.URL)

	call := flow.NewCall(context.Background(), flow.CallConfig{
		Leg:     leg,
		Adapter: a.ua,
		Fetcher: a.fetcher,
		Logger:  a.logger,
	})
	go a.runCall(call, route)
}

func (a *Aria) runCall(call *flow.Call, route *routing.Route) {
	if err := call.LoadScript(call.Context(), route.FetchMethod(), route.URL, call.FormValues()); err != nil {
		a.logger.Error("[App] Failed to load script",
			"callSID", call.SID(), "url", route.URL, "error", err)
		call.Terminate()
		return
	}
	a.engine.Run(call)
}
