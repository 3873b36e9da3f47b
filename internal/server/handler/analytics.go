package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/polypulse/polypulse/internal/analytics"
	"github.com/polypulse/polypulse/internal/domain"
)

// BookHistoryReader supplies the windowed snapshot series for one token.
type BookHistoryReader interface {
	Latest(ctx context.Context, tokenID string) (domain.OrderBookSnapshot, error)
	History(ctx context.Context, tokenID string, since time.Time) ([]domain.OrderBookSnapshot, error)
}

// TradeHistoryReader supplies the windowed trades for one token.
type TradeHistoryReader interface {
	ListByToken(ctx context.Context, tokenID string, since, until time.Time) ([]domain.Trade, error)
}

// AnalyticsConfig carries the thresholds the ad-hoc endpoints evaluate with.
// They match the engine's thresholds so an API reading agrees with alerts.
type AnalyticsConfig struct {
	SpikeRatioThreshold float64
	WhaleMultiple       float64
	PriceMovePct        float64
	SpreadWidenRatio    float64
	DepthDropPct        float64
	BaselineDays        int
	RecentWindow        time.Duration
	MMWindow            time.Duration
}

// AnalyticsHandler serves on-demand analytics over stored market data:
// orderbook quality, slippage simulation, volume baselines, and maker
// behaviour. Everything is computed from the stores at request time.
type AnalyticsHandler struct {
	books  BookHistoryReader
	trades TradeHistoryReader
	cfg    AnalyticsConfig
	logger *slog.Logger
}

// NewAnalyticsHandler creates an AnalyticsHandler.
func NewAnalyticsHandler(books BookHistoryReader, trades TradeHistoryReader, cfg AnalyticsConfig, logger *slog.Logger) *AnalyticsHandler {
	if cfg.BaselineDays <= 0 {
		cfg.BaselineDays = 7
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = time.Hour
	}
	if cfg.MMWindow <= 0 {
		cfg.MMWindow = 30 * time.Minute
	}
	if cfg.SpreadWidenRatio <= 0 {
		cfg.SpreadWidenRatio = 1.5
	}
	if cfg.DepthDropPct <= 0 {
		cfg.DepthDropPct = 0.5
	}
	return &AnalyticsHandler{books: books, trades: trades, cfg: cfg, logger: logger}
}

// depthTiers are the price bands reported by the metrics endpoint.
var depthTiers = []float64{0.01, 0.05, 0.10}

type bookMetricsResponse struct {
	TokenID   string                   `json:"token_id"`
	Timestamp time.Time                `json:"timestamp"`
	Quote     *analytics.Quote         `json:"quote,omitempty"`
	Crossed   bool                     `json:"crossed"`
	Depth     map[string]depthResponse `json:"depth"`
}

type depthResponse struct {
	Bid       float64 `json:"bid_dollars"`
	Ask       float64 `json:"ask_dollars"`
	Imbalance float64 `json:"imbalance"`
}

// BookMetrics returns spread, per-tier depth and imbalance for the latest
// book of a token.
// GET /api/analytics/books/{tokenID}
func (h *AnalyticsHandler) BookMetrics(w http.ResponseWriter, r *http.Request) {
	tokenID := r.PathValue("tokenID")

	book, err := h.books.Latest(r.Context(), tokenID)
	if err != nil {
		h.bookError(w, r, tokenID, err)
		return
	}

	resp := bookMetricsResponse{
		TokenID:   book.TokenID,
		Timestamp: book.Timestamp,
		Crossed:   book.Crossed(),
		Depth:     make(map[string]depthResponse, len(depthTiers)),
	}
	if quote, ok := analytics.ComputeSpread(book); ok {
		resp.Quote = &quote
	}
	for _, tier := range depthTiers {
		d := analytics.DepthAt(book, tier)
		resp.Depth[tierLabel(tier)] = depthResponse{
			Bid:       d.BidDepth,
			Ask:       d.AskDepth,
			Imbalance: analytics.Imbalance(d.BidDepth, d.AskDepth),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func tierLabel(tier float64) string {
	switch tier {
	case 0.01:
		return "1pct"
	case 0.05:
		return "5pct"
	case 0.10:
		return "10pct"
	default:
		return "other"
	}
}

// Slippage simulates a market order against the latest book.
// GET /api/analytics/books/{tokenID}/slippage?amount=500&side=buy
func (h *AnalyticsHandler) Slippage(w http.ResponseWriter, r *http.Request) {
	tokenID := r.PathValue("tokenID")

	amount := parseFloat(r, "amount", 100)
	if amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	side := domain.TradeSideBuy
	if r.URL.Query().Get("side") == "sell" {
		side = domain.TradeSideSell
	}

	book, err := h.books.Latest(r.Context(), tokenID)
	if err != nil {
		h.bookError(w, r, tokenID, err)
		return
	}

	result, ok := analytics.SimulateSlippage(book, amount, side)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "book side is empty")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SpreadPattern returns hour-of-day spread behaviour over the last 24h.
// GET /api/analytics/books/{tokenID}/pattern
func (h *AnalyticsHandler) SpreadPattern(w http.ResponseWriter, r *http.Request) {
	tokenID := r.PathValue("tokenID")

	now := time.Now().UTC()
	history, err := h.books.History(r.Context(), tokenID, now.Add(-24*time.Hour))
	if err != nil {
		h.bookError(w, r, tokenID, err)
		return
	}

	pattern, ok := analytics.AnalyzeSpreadPattern(history, now, 24*time.Hour)
	if !ok {
		writeError(w, http.StatusNotFound, "no usable snapshots for token")
		return
	}
	writeJSON(w, http.StatusOK, pattern)
}

type volumeResponse struct {
	TokenID     string                             `json:"token_id"`
	Ratio       analytics.VolumeRatio              `json:"ratio"`
	Spiked      bool                               `json:"spiked"`
	Correlation *analytics.VolumePriceCorrelation  `json:"correlation,omitempty"`
	Outliers    *analytics.TradeSizeStats          `json:"outliers,omitempty"`
}

// Volume reports the recent-vs-baseline volume ratio plus the price
// correlation and whale outliers for one token.
// GET /api/analytics/volume/{tokenID}
func (h *AnalyticsHandler) Volume(w http.ResponseWriter, r *http.Request) {
	tokenID := r.PathValue("tokenID")

	now := time.Now().UTC()
	since := now.AddDate(0, 0, -h.cfg.BaselineDays)
	trades, err := h.trades.ListByToken(r.Context(), tokenID, since, now)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "volume query failed",
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}

	ratio := analytics.ComputeVolumeRatio(trades, now, h.cfg.RecentWindow, h.cfg.BaselineDays)
	resp := volumeResponse{
		TokenID: tokenID,
		Ratio:   ratio,
		Spiked:  ratio.Spiked(h.cfg.SpikeRatioThreshold),
	}
	if corr, ok := analytics.CorrelateVolumePrice(trades, now, h.cfg.RecentWindow, h.cfg.SpikeRatioThreshold, h.cfg.PriceMovePct, h.cfg.BaselineDays); ok {
		resp.Correlation = &corr
	}
	if stats, ok := analytics.FindTradeSizeOutliers(trades, now, h.cfg.RecentWindow, h.cfg.WhaleMultiple); ok {
		resp.Outliers = &stats
	}

	writeJSON(w, http.StatusOK, resp)
}

// MakerProfile reports maker presence and pullback state for one token.
// GET /api/analytics/makers/{tokenID}
func (h *AnalyticsHandler) MakerProfile(w http.ResponseWriter, r *http.Request) {
	tokenID := r.PathValue("tokenID")

	now := time.Now().UTC()
	history, err := h.books.History(r.Context(), tokenID, now.Add(-24*time.Hour))
	if err != nil {
		h.bookError(w, r, tokenID, err)
		return
	}

	presence, ok := analytics.ScorePresence(history, now, h.cfg.MMWindow)
	if !ok {
		writeError(w, http.StatusNotFound, "no snapshots in scoring window")
		return
	}

	resp := map[string]any{
		"token_id": tokenID,
		"presence": presence,
	}
	if pullback, ok := analytics.DetectPullback(history, now, h.cfg.MMWindow, 24*time.Hour, h.cfg.SpreadWidenRatio, h.cfg.DepthDropPct); ok {
		resp["pullback"] = pullback
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *AnalyticsHandler) bookError(w http.ResponseWriter, r *http.Request, tokenID string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no orderbook for token")
		return
	}
	h.logger.ErrorContext(r.Context(), "book query failed",
		slog.String("token_id", tokenID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to load orderbook")
}
