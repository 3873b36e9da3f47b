package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/polypulse/polypulse/internal/domain"
	"github.com/polypulse/polypulse/internal/engine"
)

// CycleLock serialises analysis cycles across replicas. Acquire returns a
// release func, or an error when another holder is active.
type CycleLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// AlertNotifier pushes recorded alerts to outbound channels.
type AlertNotifier interface {
	Notify(ctx context.Context, severity domain.Severity, title, message string) error
}

// Analyzer assembles a frozen batch from the stores, runs the engine over
// it, records the surviving candidates, and fans recorded alerts out to the
// bus and notifier. One cycle is one batch; nothing is carried between
// cycles.
type Analyzer struct {
	engine   *engine.Engine
	markets  domain.MarketProvider
	books    domain.OrderbookProvider
	trades   domain.TradeProvider
	edges    domain.RelationshipProvider
	alerts   domain.AlertSink
	bus      domain.AlertBus
	notifier AlertNotifier
	lock     CycleLock

	tradeWindow time.Duration
	bookWindow  time.Duration
	maxMarkets  int
	metrics     *Metrics
	logger      *slog.Logger
}

// AnalyzerOpts carries the optional collaborators and windows.
type AnalyzerOpts struct {
	Bus      domain.AlertBus // nil when Redis is disabled
	Notifier AlertNotifier   // nil when no channels are configured
	Lock     CycleLock       // nil when running a single replica

	// TradeWindow bounds the trades loaded per batch. It must cover the
	// volume baseline lookback; anything shorter starves the baseline.
	TradeWindow time.Duration

	// BookWindow bounds the orderbook history loaded per batch.
	BookWindow time.Duration

	MaxMarkets int

	// Metrics records cycle counters and durations. Nil disables.
	Metrics *Metrics
}

// NewAnalyzer creates an analysis driver.
func NewAnalyzer(
	eng *engine.Engine,
	markets domain.MarketProvider,
	books domain.OrderbookProvider,
	trades domain.TradeProvider,
	edges domain.RelationshipProvider,
	alerts domain.AlertSink,
	opts AnalyzerOpts,
	logger *slog.Logger,
) *Analyzer {
	if opts.TradeWindow <= 0 {
		opts.TradeWindow = 7 * 24 * time.Hour
	}
	if opts.BookWindow <= 0 {
		opts.BookWindow = 24 * time.Hour
	}
	return &Analyzer{
		engine:      eng,
		markets:     markets,
		books:       books,
		trades:      trades,
		edges:       edges,
		alerts:      alerts,
		bus:         opts.Bus,
		notifier:    opts.Notifier,
		lock:        opts.Lock,
		tradeWindow: opts.TradeWindow,
		bookWindow:  opts.BookWindow,
		maxMarkets:  opts.MaxMarkets,
		metrics:     opts.Metrics,
		logger:      logger.With(slog.String("component", "analyzer")),
	}
}

// lockKey is shared by all replicas so only one cycle runs at a time.
const lockKey = "lock:analysis_cycle"

// RunOnce executes a single analysis cycle. A cycle held by another replica
// is skipped silently.
func (a *Analyzer) RunOnce(ctx context.Context) error {
	if a.lock != nil {
		release, err := a.lock.Acquire(ctx, lockKey, 10*time.Minute)
		if err != nil {
			a.logger.Info("analysis cycle skipped, lock held elsewhere")
			if a.metrics != nil {
				a.metrics.cyclesSkipped.Inc()
			}
			return nil
		}
		defer release()
	}

	started := time.Now()

	batch, err := a.assembleBatch(ctx)
	if err != nil {
		return fmt.Errorf("analyzer: assemble batch: %w", err)
	}

	candidates, err := a.engine.Evaluate(ctx, batch)
	if err != nil {
		return fmt.Errorf("analyzer: evaluate: %w", err)
	}

	recorded, err := a.alerts.SaveCandidates(ctx, candidates)
	if err != nil {
		return fmt.Errorf("analyzer: save candidates: %w", err)
	}

	for _, alert := range recorded {
		a.fanOut(ctx, alert)
	}

	if a.metrics != nil {
		a.metrics.cyclesTotal.Inc()
		a.metrics.cycleDuration.Observe(time.Since(started).Seconds())
		for _, alert := range recorded {
			a.metrics.alertsEmitted.WithLabelValues(string(alert.Type)).Inc()
		}
	}

	a.logger.Info("analysis cycle complete",
		slog.Int("markets", len(batch.Markets)),
		slog.Int("candidates", len(candidates)),
		slog.Int("recorded", len(recorded)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// assembleBatch freezes the cycle input: active markets, latest plus
// windowed books, windowed trades, and the relationship graph.
func (a *Analyzer) assembleBatch(ctx context.Context) (*domain.Batch, error) {
	now := time.Now().UTC()

	markets, err := a.markets.ListActive(ctx, domain.ListOpts{Limit: a.maxMarkets})
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}

	marketIndex := make(map[string]domain.MarketSnapshot, len(markets))
	var tokenIDs []string
	for _, m := range markets {
		marketIndex[m.ID] = m
		tokenIDs = append(tokenIDs, m.TokenIDs()...)
	}

	books, err := a.books.LatestBatch(ctx, tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("latest books: %w", err)
	}

	history := make(map[string][]domain.OrderBookSnapshot, len(tokenIDs))
	bookSince := now.Add(-a.bookWindow)
	for _, id := range tokenIDs {
		snaps, err := a.books.History(ctx, id, bookSince)
		if err != nil {
			return nil, fmt.Errorf("book history %s: %w", id, err)
		}
		if len(snaps) > 0 {
			history[id] = snaps
		}
	}

	trades, err := a.trades.ListByTokens(ctx, tokenIDs, now.Add(-a.tradeWindow), now)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}

	edges, err := a.edges.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}

	return &domain.Batch{
		Now:         now,
		Markets:     marketIndex,
		Books:       books,
		BookHistory: history,
		Trades:      trades,
		Edges:       edges,
	}, nil
}

// fanOut pushes one recorded alert to the bus and the notifier. Delivery
// failures are logged, not returned: the alert is already persisted and the
// cycle outcome does not depend on delivery.
func (a *Analyzer) fanOut(ctx context.Context, alert domain.Alert) {
	if a.bus != nil {
		if err := a.bus.Publish(ctx, alert); err != nil {
			a.logger.Error("alert publish failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if a.notifier != nil {
		msg := fmt.Sprintf("%s\nmarket: %s", alert.Description, alert.MarketID)
		if err := a.notifier.Notify(ctx, alert.Severity, alert.Title, msg); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("alert notification failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// RunLoop runs analysis cycles on the interval until ctx is cancelled.
func (a *Analyzer) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := a.RunOnce(ctx); err != nil {
		a.logger.Error("analysis cycle failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("analyzer stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				a.logger.Error("analysis cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}
