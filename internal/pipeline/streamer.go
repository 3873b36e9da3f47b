package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polypulse/polypulse/internal/domain"
	"github.com/polypulse/polypulse/internal/platform/polymarket"
)

// BookStreamer keeps the book cache hot between REST snapshot passes by
// consuming the CLOB market WebSocket. Every pushed book lands in the cache;
// the time series only gets a row when the previous persisted snapshot for
// that token is older than persistEvery, so a busy token doesn't flood the
// database.
type BookStreamer struct {
	ws      *polymarket.WSClient
	markets domain.MarketProvider
	books   domain.OrderbookProvider
	cache   domain.BookCache

	persistEvery time.Duration
	maxMarkets   int
	logger       *slog.Logger

	mu          sync.Mutex
	lastPersist map[string]time.Time
}

// NewBookStreamer creates a streamer. cache may be nil, in which case only
// throttled persistence happens.
func NewBookStreamer(
	ws *polymarket.WSClient,
	markets domain.MarketProvider,
	books domain.OrderbookProvider,
	cache domain.BookCache,
	persistEvery time.Duration,
	maxMarkets int,
	logger *slog.Logger,
) *BookStreamer {
	if persistEvery <= 0 {
		persistEvery = time.Minute
	}
	return &BookStreamer{
		ws:           ws,
		markets:      markets,
		books:        books,
		cache:        cache,
		persistEvery: persistEvery,
		maxMarkets:   maxMarkets,
		logger:       logger.With(slog.String("component", "book_streamer")),
		lastPersist:  make(map[string]time.Time),
	}
}

// Run connects, subscribes to every active token, and blocks until ctx ends.
// Reconnection is handled inside the WebSocket client; subscriptions are
// refreshed on the resubscribe interval to pick up newly listed markets.
func (s *BookStreamer) Run(ctx context.Context, resubscribeEvery time.Duration) error {
	if resubscribeEvery <= 0 {
		resubscribeEvery = 15 * time.Minute
	}

	s.ws.OnBook(func(snap domain.OrderBookSnapshot) {
		s.handleBook(ctx, snap)
	})

	if err := s.ws.Connect(ctx); err != nil {
		return fmt.Errorf("book streamer: %w", err)
	}
	defer s.ws.Close()

	if err := s.subscribeActive(ctx); err != nil {
		s.logger.Error("initial subscribe failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(resubscribeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("book streamer stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.subscribeActive(ctx); err != nil {
				s.logger.Error("resubscribe failed", slog.String("error", err.Error()))
			}
		}
	}
}

// subscribeActive subscribes to the tokens of all currently active markets.
func (s *BookStreamer) subscribeActive(ctx context.Context) error {
	markets, err := s.markets.ListActive(ctx, domain.ListOpts{Limit: s.maxMarkets})
	if err != nil {
		return fmt.Errorf("list markets: %w", err)
	}

	var tokenIDs []string
	for _, m := range markets {
		tokenIDs = append(tokenIDs, m.TokenIDs()...)
	}
	if len(tokenIDs) == 0 {
		return nil
	}

	if err := s.ws.Subscribe(tokenIDs); err != nil {
		return err
	}
	s.logger.Info("subscribed to book feed", slog.Int("tokens", len(tokenIDs)))
	return nil
}

// handleBook runs on the WebSocket read loop; it must stay cheap.
func (s *BookStreamer) handleBook(ctx context.Context, snap domain.OrderBookSnapshot) {
	if s.cache != nil {
		if err := s.cache.Set(ctx, snap); err != nil {
			s.logger.Warn("book cache set failed",
				slog.String("token_id", snap.TokenID),
				slog.String("error", err.Error()),
			)
		}
	}

	if !s.shouldPersist(snap.TokenID, snap.Timestamp) {
		return
	}
	if err := s.books.Insert(ctx, snap); err != nil {
		s.logger.Error("streamed book insert failed",
			slog.String("token_id", snap.TokenID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *BookStreamer) shouldPersist(tokenID string, ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastPersist[tokenID]
	if ok && ts.Sub(last) < s.persistEvery {
		return false
	}
	s.lastPersist[tokenID] = ts
	return true
}
