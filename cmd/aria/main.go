package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/aria/internal/app"
	"github.com/sebas/aria/internal/config"
	"github.com/sebas/aria/internal/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	// Create server
	aria, err := app.NewServer(cfg)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}
	defer aria.Close()

	run(aria, cfg)
}

func run(aria *app.Aria, cfg *config.Config) {
	slog.Info("Starting Aria Call Server",
		"port", cfg.Port,
		"bind", cfg.BindAddr,
		"advertise", cfg.AdvertiseAddr,
		"routes", cfg.RoutesPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start server
	go func() {
		if err := aria.Start(ctx); err != nil {
			slog.Error("Server error", "error", err)
		}
	}()

	// Wait for signal; SIGHUP reloads the route table.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if err := aria.ReloadRoutes(); err != nil {
				slog.Error("Route reload failed", "error", err)
			}
			continue
		}
		slog.Info("Received signal, shutting down", "signal", sig)
		break
	}
	cancel()

	time.Sleep(1 * time.Second)
}
