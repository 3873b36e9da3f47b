package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/polypulse/polypulse/internal/domain"
)

// MarketReader is the slice of the market store the handler needs.
type MarketReader interface {
	GetByID(ctx context.Context, id string) (domain.MarketSnapshot, error)
	ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error)
	Count(ctx context.Context) (int64, error)
}

// BookReader resolves the latest book for a token, preferring the cache.
type BookReader interface {
	Latest(ctx context.Context, tokenID string) (domain.OrderBookSnapshot, error)
}

// MarketHandler serves market metadata and current orderbooks.
type MarketHandler struct {
	markets MarketReader
	books   BookReader
	cache   domain.BookCache // nil when Redis is disabled
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. cache may be nil.
func NewMarketHandler(markets MarketReader, books BookReader, cache domain.BookCache, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		books:   books,
		cache:   cache,
		logger:  logger,
	}
}

type listMarketsResponse struct {
	Markets []domain.MarketSnapshot `json:"markets"`
	Total   int64                   `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// ListMarkets returns active markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListActive(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list markets failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "count markets failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns one market by ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// GetOrderbook returns the latest book for an outcome token, served from
// the cache when possible.
// GET /api/orderbooks/{tokenID}
func (h *MarketHandler) GetOrderbook(w http.ResponseWriter, r *http.Request) {
	tokenID := r.PathValue("tokenID")
	if tokenID == "" {
		writeError(w, http.StatusBadRequest, "missing token id")
		return
	}

	if h.cache != nil {
		if snap, err := h.cache.Get(r.Context(), tokenID); err == nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}

	snap, err := h.books.Latest(r.Context(), tokenID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no orderbook for token")
			return
		}
		h.logger.ErrorContext(r.Context(), "get orderbook failed",
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get orderbook")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}
