package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polypulse/polypulse/internal/analytics"
	"github.com/polypulse/polypulse/internal/arbitrage"
	"github.com/polypulse/polypulse/internal/domain"
	"github.com/polypulse/polypulse/internal/engine"
	"github.com/polypulse/polypulse/internal/pipeline"
	"github.com/polypulse/polypulse/internal/platform/polymarket"
	"github.com/polypulse/polypulse/internal/server"
	"github.com/polypulse/polypulse/internal/server/handler"
	"github.com/polypulse/polypulse/internal/server/middleware"
	"github.com/polypulse/polypulse/internal/server/ws"
)

// gammaFetcher adapts the Gamma client to the market collector.
type gammaFetcher struct {
	c *polymarket.GammaClient
}

func (f gammaFetcher) FetchMarkets(ctx context.Context, limit, offset int) ([]domain.MarketSnapshot, error) {
	closed := false
	return f.c.GetMarkets(ctx, polymarket.MarketQuery{
		Active: true,
		Closed: &closed,
		Limit:  limit,
		Offset: offset,
	})
}

// clobBookFetcher adapts the CLOB client to the book collector.
type clobBookFetcher struct {
	c *polymarket.ClobClient
}

func (f clobBookFetcher) FetchBooks(ctx context.Context, tokenIDs []string) ([]domain.OrderBookSnapshot, error) {
	return f.c.GetOrderBooks(ctx, tokenIDs)
}

// clobTradeFetcher adapts the data API to the trade collector.
type clobTradeFetcher struct {
	c *polymarket.ClobClient
}

func (f clobTradeFetcher) FetchTrades(ctx context.Context, marketID, conditionID string, after time.Time) ([]domain.Trade, error) {
	return f.c.GetTrades(ctx, marketID, conditionID, after, 0)
}

// buildEngine maps the analysis thresholds onto the detection engine.
func (a *App) buildEngine() *engine.Engine {
	cfg := a.cfg.Analysis
	return engine.New(engine.Config{
		SpikeRatioThreshold: cfg.SpikeRatioThreshold,
		FlashSpikeRatio:     cfg.FlashSpikeRatio,
		MinBaselineTrades:   cfg.MinBaselineTrades,
		SpreadAlertPct:      cfg.SpreadAlertPct,
		DepthDropPct:        cfg.DepthDropPct,
		SpreadWidenRatio:    cfg.SpreadWidenRatio,
		WhaleMultiple:       cfg.WhaleMultiple,
		PriceMovePct:        cfg.PriceMovePct,
		BaselineLookback:    cfg.BaselineLookback(),
		RecentWindow:        time.Hour,
		FlashWindow:         15 * time.Minute,
		MMWindow:            cfg.MMWindow(),
		BookFreshness:       cfg.OrderbookFreshness(),
		Arbitrage: arbitrage.Config{
			MinProfit:    cfg.MinArbitrageProfit,
			FeePerTrade:  cfg.FeePerTrade,
			MinLiquidity: cfg.MinLiquidity,
			PriceDelta:   cfg.ArbPriceDelta,
			Freshness:    cfg.OrderbookFreshness(),
		},
	}, a.logger)
}

// buildPipeline assembles the collectors, analyzer, retention job, and
// WebSocket book streamer into one orchestrator.
func (a *App) buildPipeline(deps *Dependencies) *pipeline.Orchestrator {
	pcfg := a.cfg.Pipeline

	// Typed nils must not reach the interface fields.
	var limiter pipeline.RequestLimiter
	var lock pipeline.CycleLock
	var bus domain.AlertBus
	var cache domain.BookCache
	if deps.Limiter != nil {
		limiter = deps.Limiter
	}
	if deps.Locks != nil {
		lock = deps.Locks
	}
	if deps.AlertBus != nil {
		bus = deps.AlertBus
	}
	if deps.BookCache != nil {
		cache = deps.BookCache
	}
	var notifier pipeline.AlertNotifier
	if deps.Notifier != nil {
		notifier = deps.Notifier
	}

	markets := pipeline.NewMarketCollector(
		gammaFetcher{deps.Gamma}, deps.Markets, limiter, pcfg.MaxMarkets, a.logger,
	)
	books := pipeline.NewBookCollector(
		clobBookFetcher{deps.Clob}, deps.Markets, deps.Books, cache, limiter,
		pcfg.OrderbookConcurrency, pcfg.MaxMarkets, a.logger,
	)
	trades := pipeline.NewTradeCollector(
		clobTradeFetcher{deps.Clob}, deps.Markets, deps.Trades, limiter,
		time.Duration(pcfg.TradeLookbackMinutes)*time.Minute, pcfg.MaxMarkets, a.logger,
	)

	analyzer := pipeline.NewAnalyzer(
		a.buildEngine(), deps.Markets, deps.Books, deps.Trades, deps.Edges, deps.Alerts,
		pipeline.AnalyzerOpts{
			Bus:         bus,
			Notifier:    notifier,
			Lock:        lock,
			Metrics:     a.cycleMetrics,
			TradeWindow: a.cfg.Analysis.BaselineLookback(),
			MaxMarkets:  pcfg.MaxMarkets,
		},
		a.logger,
	)

	// Without S3 the retention job still prunes; rows are archived first
	// only when cold storage is configured.
	var cold pipeline.ColdStore
	if deps.Archiver != nil {
		cold = deps.Archiver
	}
	retention := pipeline.NewRetention(
		deps.Trades, deps.Books, deps.Alerts, cold,
		pcfg.RetentionDays, a.logger,
	)

	// The live book streamer needs the Redis cache to be useful.
	var streamer *pipeline.BookStreamer
	if deps.BookCache != nil {
		wsClient := polymarket.NewWSClient("")
		streamer = pipeline.NewBookStreamer(
			wsClient, deps.Markets, deps.Books, deps.BookCache,
			time.Minute, pcfg.MaxMarkets, a.logger,
		)
	}

	intervals := pipeline.Intervals{
		Markets:   time.Duration(pcfg.MarketIntervalMinutes) * time.Minute,
		Books:     time.Duration(pcfg.OrderbookIntervalMinutes) * time.Minute,
		Trades:    time.Duration(pcfg.TradeIntervalMinutes) * time.Minute,
		Analysis:  time.Duration(pcfg.AnalysisIntervalMinutes) * time.Minute,
		Retention: pcfg.ArchiveCron,
	}

	return pipeline.NewOrchestrator(markets, books, trades, analyzer, retention, streamer, intervals, a.logger)
}

// buildServer assembles the HTTP API server and, when Redis is available,
// the WebSocket alert hub.
func (a *App) buildServer(deps *Dependencies) (*server.Server, *ws.Hub) {
	metrics := server.NewMetrics(a.registry)

	checks := map[string]handler.HealthChecker{
		"postgres": deps.PG.Pool().Ping,
	}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}

	var bookCache domain.BookCache
	if deps.BookCache != nil {
		bookCache = deps.BookCache
	}

	acfg := a.cfg.Analysis
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(checks, a.logger),
		Markets: handler.NewMarketHandler(deps.Markets, deps.Books, bookCache, a.logger),
		Alerts:  handler.NewAlertHandler(deps.Alerts, a.logger),
		Analytics: handler.NewAnalyticsHandler(deps.Books, deps.Trades, handler.AnalyticsConfig{
			SpikeRatioThreshold: acfg.SpikeRatioThreshold,
			WhaleMultiple:       acfg.WhaleMultiple,
			PriceMovePct:        acfg.PriceMovePct,
			SpreadWidenRatio:    acfg.SpreadWidenRatio,
			DepthDropPct:        acfg.DepthDropPct,
			BaselineDays:        acfg.BaselineLookbackDays,
			RecentWindow:        time.Hour,
			MMWindow:            acfg.MMWindow(),
		}, a.logger),
		Safety: handler.NewSafetyHandler(
			deps.Markets, deps.Books, deps.Trades, deps.Alerts,
			analytics.SafetyThresholds{
				MaxFreshness: a.cfg.Analysis.OrderbookFreshness(),
				MinDepth:     acfg.MinLiquidity,
			},
			a.logger,
		),
		Relationships: handler.NewRelationshipHandler(deps.Edges, a.logger),
		Analysis:      handler.NewAnalysisHandler(a.onDemandAnalyzer(deps), a.logger),
	}
	if deps.Archiver != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.Archiver, a.logger)
	}

	var hub *ws.Hub
	if deps.AlertBus != nil {
		hub = ws.NewHub(deps.AlertBus, metrics.WSClientGauge(), a.logger)
		handlers.Hub = hub
	}
	if deps.Limiter != nil {
		var limiter middleware.Limiter = deps.Limiter
		handlers.Limiter = limiter
	}

	scfg := a.cfg.Server
	srv := server.NewServer(server.Config{
		Port:            scfg.Port,
		CORSOrigins:     scfg.CORSOrigins,
		APIKey:          scfg.APIKey,
		RateLimit:       scfg.RateLimit,
		RateLimitWindow: scfg.RateLimitWindow(),
	}, handlers, metrics, a.registry, a.logger)

	return srv, hub
}

// onDemandAnalyzer builds the analyzer behind POST /api/analysis/run. It
// shares the cycle lock with the scheduled analyzer so a manual trigger
// never runs concurrently with the pipeline.
func (a *App) onDemandAnalyzer(deps *Dependencies) *pipeline.Analyzer {
	var lock pipeline.CycleLock
	var bus domain.AlertBus
	if deps.Locks != nil {
		lock = deps.Locks
	}
	if deps.AlertBus != nil {
		bus = deps.AlertBus
	}
	var notifier pipeline.AlertNotifier
	if deps.Notifier != nil {
		notifier = deps.Notifier
	}
	return pipeline.NewAnalyzer(
		a.buildEngine(), deps.Markets, deps.Books, deps.Trades, deps.Edges, deps.Alerts,
		pipeline.AnalyzerOpts{
			Bus:         bus,
			Notifier:    notifier,
			Lock:        lock,
			Metrics:     a.cycleMetrics,
			TradeWindow: a.cfg.Analysis.BaselineLookback(),
			MaxMarkets:  a.cfg.Pipeline.MaxMarkets,
		},
		a.logger,
	)
}

// PipelineMode runs collection, analysis, and retention without the API.
func (a *App) PipelineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting pipeline mode")
	return a.buildPipeline(deps).Run(ctx)
}

// ServerMode serves the HTTP API over already-collected data.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	srv, hub := a.buildServer(deps)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(srv.Start)
	if hub != nil {
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// AllMode runs the pipeline and the API server in one process.
func (a *App) AllMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	srv, hub := a.buildServer(deps)
	orchestrator := a.buildPipeline(deps)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := orchestrator.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(srv.Start)
	if hub != nil {
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}
