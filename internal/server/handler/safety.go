package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/polypulse/polypulse/internal/analytics"
	"github.com/polypulse/polypulse/internal/domain"
)

// AlertLister supplies the active alerts used as confirming signals.
type AlertLister interface {
	List(ctx context.Context, activeOnly bool, types []domain.AlertType, opts domain.ListOpts) ([]domain.Alert, error)
}

// SafetyHandler scores how safe a market is to act on right now, combining
// data freshness, book depth, spread, and confirming alerts into a 0-100
// score with a plain-language explanation.
type SafetyHandler struct {
	markets    MarketReader
	books      BookHistoryReader
	trades     TradeHistoryReader
	alerts     AlertLister
	thresholds analytics.SafetyThresholds
	logger     *slog.Logger
}

// NewSafetyHandler creates a SafetyHandler. Zero threshold fields fall back
// to the standard gates.
func NewSafetyHandler(markets MarketReader, books BookHistoryReader, trades TradeHistoryReader, alerts AlertLister, thresholds analytics.SafetyThresholds, logger *slog.Logger) *SafetyHandler {
	defaults := analytics.DefaultSafetyThresholds()
	if thresholds.MaxFreshness <= 0 {
		thresholds.MaxFreshness = defaults.MaxFreshness
	}
	if thresholds.MinDepth <= 0 {
		thresholds.MinDepth = defaults.MinDepth
	}
	if thresholds.MaxSpread <= 0 {
		thresholds.MaxSpread = defaults.MaxSpread
	}
	if thresholds.MinSignals <= 0 {
		thresholds.MinSignals = defaults.MinSignals
	}
	return &SafetyHandler{
		markets:    markets,
		books:      books,
		trades:     trades,
		alerts:     alerts,
		thresholds: thresholds,
		logger:     logger,
	}
}

type safetyResponse struct {
	MarketID    string                `json:"market_id"`
	Question    string                `json:"question"`
	Category    string                `json:"category,omitempty"`
	Safety      analytics.SafetyScore `json:"safety"`
	Explanation analytics.Explanation `json:"explanation"`
	LastUpdated *time.Time            `json:"last_updated,omitempty"`
}

// MarketSafety scores one market.
// GET /api/analytics/safety/{id}
func (h *SafetyHandler) MarketSafety(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	market, err := h.markets.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "safety market lookup failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load market")
		return
	}

	signals, err := h.activeSignals(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "safety alert query failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load alerts")
		return
	}

	resp, err := h.scoreMarket(r.Context(), market, signals, time.Now().UTC())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "safety scoring failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to score market")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SafeOpportunities lists active markets that pass every safety gate,
// best score first.
// GET /api/analytics/opportunities?limit=5
func (h *SafetyHandler) SafeOpportunities(w http.ResponseWriter, r *http.Request) {
	limit := 5
	if v := parseFloat(r, "limit", 0); v > 0 {
		limit = int(v)
	}
	if limit > 50 {
		limit = 50
	}

	markets, err := h.markets.ListActive(r.Context(), domain.ListOpts{})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "safety market list failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load markets")
		return
	}
	signals, err := h.activeSignals(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "safety alert query failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load alerts")
		return
	}

	now := time.Now().UTC()
	opportunities := make([]safetyResponse, 0, limit)
	for _, market := range markets {
		resp, err := h.scoreMarket(r.Context(), market, signals, now)
		if err != nil {
			h.logger.WarnContext(r.Context(), "skipping unscorable market",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !resp.Safety.Safe {
			continue
		}
		opportunities = append(opportunities, resp)
	}
	sort.SliceStable(opportunities, func(i, j int) bool {
		if opportunities[i].Safety.Total != opportunities[j].Safety.Total {
			return opportunities[i].Safety.Total > opportunities[j].Safety.Total
		}
		return opportunities[i].MarketID < opportunities[j].MarketID
	})
	if len(opportunities) > limit {
		opportunities = opportunities[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": opportunities,
		"count":         len(opportunities),
	})
}

// activeSignals maps market ID to the active alert types that reference it,
// directly or via related markets.
func (h *SafetyHandler) activeSignals(ctx context.Context) (map[string][]domain.AlertType, error) {
	alerts, err := h.alerts.List(ctx, true, nil, domain.ListOpts{Limit: 500})
	if err != nil {
		return nil, err
	}
	signals := make(map[string][]domain.AlertType)
	for _, a := range alerts {
		signals[a.MarketID] = append(signals[a.MarketID], a.Type)
		for _, rel := range a.RelatedMarketIDs {
			if rel != a.MarketID {
				signals[rel] = append(signals[rel], a.Type)
			}
		}
	}
	return signals, nil
}

func (h *SafetyHandler) scoreMarket(ctx context.Context, market domain.MarketSnapshot, signals map[string][]domain.AlertType, now time.Time) (safetyResponse, error) {
	in := analytics.SafetyInputs{Signals: signals[market.ID]}
	explain := analytics.ExplainInputs{
		FreshnessMinutes: -1,
		SignalCount:      len(in.Signals),
	}

	var lastUpdated *time.Time
	if outcome, ok := market.YesOutcome(); ok && outcome.TokenID != "" {
		book, err := h.books.Latest(ctx, outcome.TokenID)
		switch {
		case err == nil:
			in.LastBookTime = book.Timestamp
			lastUpdated = &book.Timestamp
			d := analytics.DepthAt(book, 0.01)
			in.BidDepth = d.BidDepth
			in.AskDepth = d.AskDepth
			if q, ok := analytics.ComputeSpread(book); ok {
				in.Quote = &q
				explain.Quote = &q
			}
			if slip, ok := analytics.SimulateSlippage(book, 100, domain.TradeSideBuy); ok {
				explain.Slippage100 = slip.SlippagePct
				explain.HasSlippage = true
			}
		case errors.Is(err, domain.ErrNotFound):
			// A market without any book still gets scored; it just
			// fails freshness and liquidity.
		default:
			return safetyResponse{}, err
		}

		trades, err := h.trades.ListByToken(ctx, outcome.TokenID, now.Add(-24*time.Hour), now)
		if err != nil {
			return safetyResponse{}, err
		}
		for _, t := range trades {
			if t.Timestamp.After(in.LastTradeTime) {
				in.LastTradeTime = t.Timestamp
			}
		}
		explain.RecentMovePct = signedHourlyMove(trades, now)
	}

	score := analytics.ScoreSafety(in, now, h.thresholds)
	explain.TotalDepth = score.TotalDepth
	explain.FreshnessMinutes = score.FreshnessMinutes

	return safetyResponse{
		MarketID:    market.ID,
		Question:    market.Question,
		Category:    market.Category,
		Safety:      score,
		Explanation: analytics.ExplainOpportunity(in.Signals, explain),
		LastUpdated: lastUpdated,
	}, nil
}

// signedHourlyMove is the relative price change over the trailing hour,
// positive for a rise. Zero when fewer than two trades land in the hour.
func signedHourlyMove(trades []domain.Trade, now time.Time) float64 {
	cutoff := now.Add(-time.Hour)
	var inWindow []domain.Trade
	for _, t := range trades {
		if t.Timestamp.After(cutoff) && !t.Timestamp.After(now) {
			inWindow = append(inWindow, t)
		}
	}
	if len(inWindow) < 2 {
		return 0
	}
	sort.SliceStable(inWindow, func(i, j int) bool {
		return inWindow[i].Timestamp.Before(inWindow[j].Timestamp)
	})
	start := inWindow[0].Price
	if start <= 0 {
		return 0
	}
	return (inWindow[len(inWindow)-1].Price - start) / start
}
