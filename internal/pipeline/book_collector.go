package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polypulse/polypulse/internal/domain"
)

// BookFetcher retrieves orderbooks for a batch of outcome tokens.
type BookFetcher interface {
	FetchBooks(ctx context.Context, tokenIDs []string) ([]domain.OrderBookSnapshot, error)
}

// BookCollector snapshots the orderbook of every active outcome token. Each
// snapshot is appended to the time series and mirrored into the cache for
// cheap reads by the API layer.
type BookCollector struct {
	fetcher     BookFetcher
	markets     domain.MarketProvider
	books       domain.OrderbookProvider
	cache       domain.BookCache
	limiter     RequestLimiter
	concurrency int
	maxMarkets  int
	logger      *slog.Logger
}

// NewBookCollector creates a collector. cache and limiter may be nil.
func NewBookCollector(
	fetcher BookFetcher,
	markets domain.MarketProvider,
	books domain.OrderbookProvider,
	cache domain.BookCache,
	limiter RequestLimiter,
	concurrency, maxMarkets int,
	logger *slog.Logger,
) *BookCollector {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &BookCollector{
		fetcher:     fetcher,
		markets:     markets,
		books:       books,
		cache:       cache,
		limiter:     limiter,
		concurrency: concurrency,
		maxMarkets:  maxMarkets,
		logger:      logger.With(slog.String("component", "book_collector")),
	}
}

// batchSize bounds token IDs per CLOB batch request.
const batchSize = 20

// Run executes one snapshot pass over all active markets.
func (c *BookCollector) Run(ctx context.Context) error {
	markets, err := c.markets.ListActive(ctx, domain.ListOpts{Limit: c.maxMarkets})
	if err != nil {
		return fmt.Errorf("book collector: list markets: %w", err)
	}

	var tokenIDs []string
	for _, m := range markets {
		tokenIDs = append(tokenIDs, m.TokenIDs()...)
	}
	if len(tokenIDs) == 0 {
		c.logger.Info("book collection skipped, no active tokens")
		return nil
	}

	var stored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for start := 0; start < len(tokenIDs); start += batchSize {
		end := start + batchSize
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		chunk := tokenIDs[start:end]

		g.Go(func() error {
			if c.limiter != nil {
				if err := c.limiter.Wait(gctx, "ratelimit:clob", 10, time.Second); err != nil {
					return fmt.Errorf("rate limit: %w", err)
				}
			}

			snaps, err := c.fetcher.FetchBooks(gctx, chunk)
			if err != nil {
				return fmt.Errorf("fetch books: %w", err)
			}

			for _, snap := range snaps {
				if err := c.books.Insert(gctx, snap); err != nil {
					return fmt.Errorf("insert book %s: %w", snap.TokenID, err)
				}
				if c.cache != nil {
					if err := c.cache.Set(gctx, snap); err != nil {
						c.logger.Warn("book cache set failed",
							slog.String("token_id", snap.TokenID),
							slog.String("error", err.Error()),
						)
					}
				}
				stored.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("book collector: %w", err)
	}

	c.logger.Info("book collection complete",
		slog.Int("tokens", len(tokenIDs)),
		slog.Int64("stored", stored.Load()),
	)
	return nil
}

// RunLoop runs snapshot passes on the interval until ctx is cancelled.
func (c *BookCollector) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := c.Run(ctx); err != nil {
		c.logger.Error("book collection failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("book collector stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := c.Run(ctx); err != nil {
				c.logger.Error("book collection failed", slog.String("error", err.Error()))
			}
		}
	}
}
