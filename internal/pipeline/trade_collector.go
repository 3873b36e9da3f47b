package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polypulse/polypulse/internal/domain"
)

// TradeFetcher retrieves recent fills for one market. after prunes fills at
// or before that time.
type TradeFetcher interface {
	FetchTrades(ctx context.Context, marketID, conditionID string, after time.Time) ([]domain.Trade, error)
}

// TradeStore is the write side the collector needs: an idempotent batch
// insert and the high-water mark of already ingested fills.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []domain.Trade) error
	LastTimestamp(ctx context.Context) (time.Time, error)
}

// TradeCollector ingests fills from the data API. Inserts are keyed by fill
// ID, so overlapping windows are safe; the lookback keeps one missed run
// from leaving gaps.
type TradeCollector struct {
	fetcher    TradeFetcher
	markets    domain.MarketProvider
	trades     TradeStore
	limiter    RequestLimiter
	lookback   time.Duration
	maxMarkets int
	logger     *slog.Logger
}

// NewTradeCollector creates a collector. limiter may be nil.
func NewTradeCollector(
	fetcher TradeFetcher,
	markets domain.MarketProvider,
	trades TradeStore,
	limiter RequestLimiter,
	lookback time.Duration,
	maxMarkets int,
	logger *slog.Logger,
) *TradeCollector {
	if lookback <= 0 {
		lookback = 30 * time.Minute
	}
	return &TradeCollector{
		fetcher:    fetcher,
		markets:    markets,
		trades:     trades,
		limiter:    limiter,
		lookback:   lookback,
		maxMarkets: maxMarkets,
		logger:     logger.With(slog.String("component", "trade_collector")),
	}
}

// Run executes one ingestion pass over all active markets.
func (c *TradeCollector) Run(ctx context.Context) error {
	markets, err := c.markets.ListActive(ctx, domain.ListOpts{Limit: c.maxMarkets})
	if err != nil {
		return fmt.Errorf("trade collector: list markets: %w", err)
	}

	after := time.Now().UTC().Add(-c.lookback)
	if last, err := c.trades.LastTimestamp(ctx); err != nil {
		c.logger.Warn("last trade timestamp unavailable, using lookback",
			slog.String("error", err.Error()),
		)
	} else if !last.IsZero() && last.Before(after) {
		// A long outage leaves a gap the lookback can't cover; resume
		// from the high-water mark instead.
		after = last
	}

	total := 0
	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("trade collector: %w", err)
		}
		if m.ConditionID == "" {
			continue
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, "ratelimit:data", 10, time.Second); err != nil {
				return fmt.Errorf("trade collector: rate limit: %w", err)
			}
		}

		fills, err := c.fetcher.FetchTrades(ctx, m.ID, m.ConditionID, after)
		if err != nil {
			c.logger.Error("trade fetch failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(fills) == 0 {
			continue
		}

		if err := c.trades.InsertBatch(ctx, fills); err != nil {
			return fmt.Errorf("trade collector: insert %d fills for %s: %w", len(fills), m.ID, err)
		}
		total += len(fills)
	}

	c.logger.Info("trade collection complete",
		slog.Int("markets", len(markets)),
		slog.Int("fills", total),
	)
	return nil
}

// RunLoop runs ingestion passes on the interval until ctx is cancelled.
func (c *TradeCollector) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := c.Run(ctx); err != nil {
		c.logger.Error("trade collection failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("trade collector stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := c.Run(ctx); err != nil {
				c.logger.Error("trade collection failed", slog.String("error", err.Error()))
			}
		}
	}
}
