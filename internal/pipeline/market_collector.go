// Package pipeline contains the background loops that keep the detection
// engine fed: metadata and market-data collectors, the analysis cycle, and
// retention. Each loop owns its schedule; the orchestrator just runs them.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polypulse/polypulse/internal/domain"
)

// MarketFetcher retrieves a page of market metadata from the Gamma API.
type MarketFetcher interface {
	FetchMarkets(ctx context.Context, limit, offset int) ([]domain.MarketSnapshot, error)
}

// RequestLimiter throttles outbound API calls. Wait blocks until the call is
// allowed or the context ends.
type RequestLimiter interface {
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// MarketCollector pages through active markets and upserts them into the
// store. Markets that disappear from the API keep their last known state;
// the store marks them inactive on the next metadata refresh that says so.
type MarketCollector struct {
	fetcher    MarketFetcher
	markets    domain.MarketProvider
	limiter    RequestLimiter
	maxMarkets int
	logger     *slog.Logger
}

// NewMarketCollector creates a collector. limiter may be nil when no Redis
// is configured; maxMarkets <= 0 means unbounded.
func NewMarketCollector(fetcher MarketFetcher, markets domain.MarketProvider, limiter RequestLimiter, maxMarkets int, logger *slog.Logger) *MarketCollector {
	return &MarketCollector{
		fetcher:    fetcher,
		markets:    markets,
		limiter:    limiter,
		maxMarkets: maxMarkets,
		logger:     logger.With(slog.String("component", "market_collector")),
	}
}

// Run executes one full collection pass.
func (c *MarketCollector) Run(ctx context.Context) error {
	const pageSize = 100

	offset := 0
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("market collector: %w", err)
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, "ratelimit:gamma", 10, time.Second); err != nil {
				return fmt.Errorf("market collector: rate limit: %w", err)
			}
		}

		markets, err := c.fetcher.FetchMarkets(ctx, pageSize, offset)
		if err != nil {
			return fmt.Errorf("market collector: fetch at offset %d: %w", offset, err)
		}
		if len(markets) == 0 {
			break
		}

		if err := c.markets.UpsertBatch(ctx, markets); err != nil {
			return fmt.Errorf("market collector: upsert %d markets: %w", len(markets), err)
		}

		total += len(markets)
		c.logger.Debug("synced market page",
			slog.Int("page_size", len(markets)),
			slog.Int("total", total),
		)

		if len(markets) < pageSize {
			break
		}
		if c.maxMarkets > 0 && total >= c.maxMarkets {
			break
		}
		offset += pageSize
	}

	c.logger.Info("market collection complete", slog.Int("total", total))
	return nil
}

// RunLoop runs collection passes on the interval until ctx is cancelled.
func (c *MarketCollector) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := c.Run(ctx); err != nil {
		c.logger.Error("market collection failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("market collector stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := c.Run(ctx); err != nil {
				c.logger.Error("market collection failed", slog.String("error", err.Error()))
			}
		}
	}
}
