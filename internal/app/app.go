// Package app provides top-level lifecycle management for polypulse. It
// wires stores, caches, blob storage, API clients, the detection engine, the
// collection pipeline, and the HTTP server, then runs the subsystems the
// configured mode selects.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/polypulse/polypulse/internal/config"
	"github.com/polypulse/polypulse/internal/pipeline"
)

// App is the root application object. It owns the configuration, logger,
// the shared metrics registry, and the cleanup functions run in reverse
// order on shutdown.
type App struct {
	cfg          *config.Config
	logger       *slog.Logger
	registry     *prometheus.Registry
	cycleMetrics *pipeline.Metrics
	closers      []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	registry := prometheus.NewRegistry()
	return &App{
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "app")),
		registry:     registry,
		cycleMetrics: pipeline.NewMetrics(registry),
	}
}

// Run wires all dependencies, starts the subsystems for the configured
// mode, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "pipeline":
		return a.PipelineMode(ctx, deps)
	case "server":
		return a.ServerMode(ctx, deps)
	case "all", "":
		return a.AllMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Safe to
// call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
