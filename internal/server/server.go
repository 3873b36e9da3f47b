// Package server exposes the HTTP API: market and orderbook reads, alert
// management, on-demand analytics, relationship editing, a WebSocket alert
// stream, and operational endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polypulse/polypulse/internal/server/handler"
	"github.com/polypulse/polypulse/internal/server/middleware"
	"github.com/polypulse/polypulse/internal/server/ws"
)

// Config holds the HTTP listener settings.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string

	// RateLimit caps requests per client IP per window. Zero disables.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the route handlers the server mounts. Archives, Hub,
// and Limiter are optional.
type Handlers struct {
	Health        *handler.HealthHandler
	Markets       *handler.MarketHandler
	Alerts        *handler.AlertHandler
	Analytics     *handler.AnalyticsHandler
	Safety        *handler.SafetyHandler
	Relationships *handler.RelationshipHandler
	Analysis      *handler.AnalysisHandler
	Archives      *handler.ArchiveHandler
	Hub           *ws.Hub
	Limiter       middleware.Limiter
}

// Server is the HTTP API server.
type Server struct {
	cfg     Config
	http    *http.Server
	logger  *slog.Logger
	metrics *Metrics
}

// NewServer builds the route table and middleware chain. metrics must be
// registered with reg; the hub's client gauge comes from the same Metrics.
func NewServer(cfg Config, h Handlers, metrics *Metrics, reg *prometheus.Registry, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "server")),
		metrics: metrics,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", h.Markets.GetMarket)
	mux.HandleFunc("GET /api/orderbooks/{tokenID}", h.Markets.GetOrderbook)

	mux.HandleFunc("GET /api/alerts", h.Alerts.ListAlerts)
	mux.HandleFunc("GET /api/alerts/{id}", h.Alerts.GetAlert)
	mux.HandleFunc("POST /api/alerts/{id}/dismiss", h.Alerts.DismissAlert)

	mux.HandleFunc("GET /api/analytics/books/{tokenID}", h.Analytics.BookMetrics)
	mux.HandleFunc("GET /api/analytics/books/{tokenID}/slippage", h.Analytics.Slippage)
	mux.HandleFunc("GET /api/analytics/books/{tokenID}/pattern", h.Analytics.SpreadPattern)
	mux.HandleFunc("GET /api/analytics/volume/{tokenID}", h.Analytics.Volume)
	mux.HandleFunc("GET /api/analytics/makers/{tokenID}", h.Analytics.MakerProfile)
	mux.HandleFunc("GET /api/analytics/safety/{id}", h.Safety.MarketSafety)
	mux.HandleFunc("GET /api/analytics/opportunities", h.Safety.SafeOpportunities)

	mux.HandleFunc("GET /api/relationships", h.Relationships.ListRelationships)
	mux.HandleFunc("POST /api/relationships", h.Relationships.UpsertRelationship)

	mux.HandleFunc("POST /api/analysis/run", h.Analysis.TriggerCycle)

	if h.Archives != nil {
		mux.HandleFunc("GET /api/archives", h.Archives.ListArchives)
		mux.HandleFunc("GET /api/archives/trades", h.Archives.ReadTradeArchive)
	}

	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	var root http.Handler = mux
	root = s.metrics.instrument(root)
	root = middleware.Logging(logger)(root)
	if h.Limiter != nil && cfg.RateLimit > 0 {
		root = middleware.RateLimit(h.Limiter, cfg.RateLimit, cfg.RateLimitWindow)(root)
	}
	root = exempt(middleware.Auth(cfg.APIKey), root, "/api/health", "/metrics")
	root = s.corsMiddleware(root)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.http.Shutdown(ctx)
}

// exempt bypasses a middleware for the given paths. Health probes and
// metrics scrapers do not carry API keys.
func exempt(mw func(http.Handler) http.Handler, next http.Handler, paths ...string) http.Handler {
	wrapped := mw(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range paths {
			if r.URL.Path == p {
				next.ServeHTTP(w, r)
				return
			}
		}
		wrapped.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflight requests and stamps allowed origins.
// An empty origin list allows any origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.CORSOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
