package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Intervals holds the per-loop schedules.
type Intervals struct {
	Markets   time.Duration
	Books     time.Duration
	Trades    time.Duration
	Analysis  time.Duration
	Retention string // 5-field cron expression
}

// Orchestrator runs every pipeline loop under one errgroup. A loop error
// that is not a context cancellation brings the whole pipeline down;
// per-pass failures are handled inside the loops and never reach here.
type Orchestrator struct {
	markets   *MarketCollector
	books     *BookCollector
	trades    *TradeCollector
	analyzer  *Analyzer
	retention *Retention
	streamer  *BookStreamer // nil when streaming is disabled
	intervals Intervals
	logger    *slog.Logger
}

// NewOrchestrator wires the loops together. streamer and retention may be
// nil.
func NewOrchestrator(
	markets *MarketCollector,
	books *BookCollector,
	trades *TradeCollector,
	analyzer *Analyzer,
	retention *Retention,
	streamer *BookStreamer,
	intervals Intervals,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		markets:   markets,
		books:     books,
		trades:    trades,
		analyzer:  analyzer,
		retention: retention,
		streamer:  streamer,
		intervals: intervals,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts all loops and blocks until ctx is cancelled or a loop fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline starting",
		slog.Duration("market_interval", o.intervals.Markets),
		slog.Duration("book_interval", o.intervals.Books),
		slog.Duration("trade_interval", o.intervals.Trades),
		slog.Duration("analysis_interval", o.intervals.Analysis),
		slog.String("retention_cron", o.intervals.Retention),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.markets.RunLoop(ctx, o.intervals.Markets)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("market collector: %w", err)
	})

	g.Go(func() error {
		err := o.books.RunLoop(ctx, o.intervals.Books)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("book collector: %w", err)
	})

	g.Go(func() error {
		err := o.trades.RunLoop(ctx, o.intervals.Trades)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("trade collector: %w", err)
	})

	g.Go(func() error {
		err := o.analyzer.RunLoop(ctx, o.intervals.Analysis)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("analyzer: %w", err)
	})

	if o.retention != nil && o.intervals.Retention != "" {
		g.Go(func() error {
			err := o.retention.RunCron(ctx, o.intervals.Retention)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("retention: %w", err)
		})
	}

	if o.streamer != nil {
		g.Go(func() error {
			err := o.streamer.Run(ctx, 0)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("book streamer: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline stopped cleanly")
	return nil
}
