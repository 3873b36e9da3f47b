// Package engine runs one full analysis cycle over a frozen batch: per-token
// leaf detectors fanned out in parallel, followed by the relationship-graph
// arbitrage detector. The engine holds no state between cycles and reads no
// clock; re-running it on an identical batch yields an identical candidate
// list.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polypulse/polypulse/internal/analytics"
	"github.com/polypulse/polypulse/internal/arbitrage"
	"github.com/polypulse/polypulse/internal/domain"
)

// Config holds every detection threshold. It is built once from the
// application config and passed in; detectors never consult globals.
type Config struct {
	SpikeRatioThreshold float64       // volume ratio that counts as a spike
	FlashSpikeRatio     float64       // 15-minute ratio for flash spikes
	MinBaselineTrades   int           // trades needed for a finite baseline to be trusted
	SpreadAlertPct      float64       // spread_pct that counts as wide
	DepthDropPct        float64       // depth drop that counts as a pullback
	SpreadWidenRatio    float64       // spread ratio that counts as a pullback
	WhaleMultiple       float64       // trade size multiple of mean that counts as a whale
	PriceMovePct        float64       // relative price move that counts as large
	BaselineLookback    time.Duration // volume baseline window (7 days)
	RecentWindow        time.Duration // recent volume window (1 hour)
	FlashWindow         time.Duration // flash spike window (15 minutes)
	MMWindow            time.Duration // presence scoring window
	BookFreshness       time.Duration // max snapshot age for "current" metrics

	Arbitrage arbitrage.Config
}

// Engine evaluates batches.
type Engine struct {
	cfg    Config
	arb    *arbitrage.Detector
	logger *slog.Logger
}

// New creates an engine with the given thresholds.
func New(cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		arb:    arbitrage.NewDetector(cfg.Arbitrage, logger),
		logger: logger.With(slog.String("component", "engine")),
	}
}

// Evaluate runs all detectors over the batch and returns the candidate set
// in a deterministic order. Per-token evaluation shares no mutable state, so
// it is fanned out across workers bounded by CPU count; the relationship
// detector runs once afterwards.
func (e *Engine) Evaluate(ctx context.Context, batch *domain.Batch) ([]domain.AlertCandidate, error) {
	tokenToMarket := batch.TokenMarketIndex()
	tokens := make([]string, 0, len(tokenToMarket))
	for t := range tokenToMarket {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	var (
		mu         sync.Mutex
		candidates []domain.AlertCandidate
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, tokenID := range tokens {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cands := e.evaluateToken(batch, tokenID, tokenToMarket[tokenID])
			if len(cands) > 0 {
				mu.Lock()
				candidates = append(candidates, cands...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("engine: token evaluation: %w", err)
	}

	candidates = append(candidates, e.arb.Evaluate(batch)...)

	sortCandidates(candidates)
	return candidates, nil
}

// evaluateToken runs the leaf detectors for a single token: book quality and
// spread, volume baseline, trade size outliers, and market-maker pullback.
func (e *Engine) evaluateToken(batch *domain.Batch, tokenID, marketID string) []domain.AlertCandidate {
	var out []domain.AlertCandidate

	if book, ok := batch.Books[tokenID]; ok {
		if book.Crossed() {
			// Data-quality fault: flag the snapshot and compute nothing
			// from it this cycle.
			out = append(out, e.crossedBookCandidate(batch, tokenID, marketID, book))
		} else if batch.Now.Sub(book.Timestamp) <= e.cfg.BookFreshness {
			if cand, ok := e.wideSpreadCandidate(batch, tokenID, marketID, book); ok {
				out = append(out, cand)
			}
		}
	}

	trades := batch.Trades[tokenID]
	if cand, ok := e.volumeSpikeCandidate(batch, tokenID, marketID, trades); ok {
		out = append(out, cand)
	}
	if cand, ok := e.whaleCandidate(batch, tokenID, marketID, trades); ok {
		out = append(out, cand)
	}

	if cand, ok := e.pullbackCandidate(batch, tokenID, marketID); ok {
		out = append(out, cand)
	}
	return out
}

func (e *Engine) crossedBookCandidate(batch *domain.Batch, tokenID, marketID string, book domain.OrderBookSnapshot) domain.AlertCandidate {
	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()
	return domain.AlertCandidate{
		Type:     domain.AlertCrossedBook,
		Severity: domain.SeverityInfo,
		MarketID: marketID,
		Title:    "Crossed orderbook snapshot excluded",
		Description: fmt.Sprintf(
			"Best bid %.4f >= best ask %.4f; snapshot skipped for this cycle",
			bid, ask,
		),
		Data: map[string]any{
			"token_id":           tokenID,
			"best_bid":           bid,
			"best_ask":           ask,
			"snapshot_timestamp": book.Timestamp.UTC().Format(time.RFC3339Nano),
		},
		CreatedAt: batch.Now,
	}
}

func (e *Engine) wideSpreadCandidate(batch *domain.Batch, tokenID, marketID string, book domain.OrderBookSnapshot) (domain.AlertCandidate, bool) {
	q, ok := analytics.ComputeSpread(book)
	if !ok || q.SpreadPct < e.cfg.SpreadAlertPct {
		return domain.AlertCandidate{}, false
	}
	severity := domain.SeverityMedium
	if q.SpreadPct >= 2*e.cfg.SpreadAlertPct {
		severity = domain.SeverityHigh
	}
	d := analytics.DepthAt(book, 0.01)
	return domain.AlertCandidate{
		Type:     domain.AlertWideSpread,
		Severity: severity,
		MarketID: marketID,
		Title:    fmt.Sprintf("Wide spread: %.1f%%", q.SpreadPct*100),
		Description: fmt.Sprintf(
			"Spread of %.4f between best bid %.4f and best ask %.4f",
			q.Spread, q.BestBid, q.BestAsk,
		),
		Data: map[string]any{
			"token_id":   tokenID,
			"spread":     q.Spread,
			"spread_pct": q.SpreadPct,
			"best_bid":   q.BestBid,
			"best_ask":   q.BestAsk,
			"mid_price":  q.MidPrice,
			"imbalance":  analytics.Imbalance(d.BidDepth, d.AskDepth),
		},
		CreatedAt: batch.Now,
	}, true
}

func (e *Engine) volumeSpikeCandidate(batch *domain.Batch, tokenID, marketID string, trades []domain.Trade) (domain.AlertCandidate, bool) {
	if len(trades) == 0 {
		return domain.AlertCandidate{}, false
	}
	days := int(e.cfg.BaselineLookback.Hours() / 24)
	vr := analytics.ComputeVolumeRatio(trades, batch.Now, e.cfg.RecentWindow, days)

	// A finite baseline built on too few trades is noise, not a signal. A
	// zero baseline with recent activity is the signal.
	if !vr.Unbounded && vr.BaselineTrades < e.cfg.MinBaselineTrades {
		return domain.AlertCandidate{}, false
	}

	spiked := vr.Spiked(e.cfg.SpikeRatioThreshold)

	// Flash spike: a burst inside the flash window large enough to clear a
	// higher bar against the window's share of the baseline, even while the
	// full recent window is still below threshold.
	flashRatio := 0.0
	flash := false
	if !spiked && vr.BaselineVolume > 0 {
		fv := analytics.ComputeVolumeRatio(trades, batch.Now, e.cfg.FlashWindow, days)
		share := vr.BaselineVolume * e.cfg.FlashWindow.Hours() / e.cfg.RecentWindow.Hours()
		if share > 0 {
			flashRatio = fv.RecentVolume / share
			flash = flashRatio >= e.cfg.FlashSpikeRatio
		}
	}
	if !spiked && !flash {
		return domain.AlertCandidate{}, false
	}

	severity := domain.SeverityMedium
	title := ""
	switch {
	case vr.Unbounded:
		severity = domain.SeverityCritical
		title = "Volume spike: no historical baseline"
	case flash:
		title = fmt.Sprintf("Volume spike: %.1fx normal (flash)", flashRatio)
	default:
		if vr.Ratio >= 2*e.cfg.SpikeRatioThreshold {
			severity = domain.SeverityHigh
		}
		title = fmt.Sprintf("Volume spike: %.1fx normal", vr.Ratio)
	}

	return domain.AlertCandidate{
		Type:     domain.AlertVolumeSpike,
		Severity: severity,
		MarketID: marketID,
		Title:    title,
		Description: fmt.Sprintf(
			"Recent volume $%.0f against a baseline of $%.0f",
			vr.RecentVolume, vr.BaselineVolume,
		),
		Data: map[string]any{
			"token_id":           tokenID,
			"recent_volume":      vr.RecentVolume,
			"baseline_volume":    vr.BaselineVolume,
			"ratio":              vr.Ratio,
			"ratio_unbounded":    vr.Unbounded,
			"flash_ratio":        flashRatio,
			"flash_spike":        flash,
			"recent_trade_count": vr.RecentTrades,
		},
		CreatedAt: batch.Now,
	}, true
}

func (e *Engine) whaleCandidate(batch *domain.Batch, tokenID, marketID string, trades []domain.Trade) (domain.AlertCandidate, bool) {
	stats, ok := analytics.FindTradeSizeOutliers(trades, batch.Now, e.cfg.RecentWindow, e.cfg.WhaleMultiple)
	if !ok || len(stats.Outliers) == 0 {
		return domain.AlertCandidate{}, false
	}

	largest := 0.0
	outliers := make([]map[string]any, 0, len(stats.Outliers))
	for _, t := range stats.Outliers {
		size := t.Size
		if size < 0 {
			size = -size
		}
		if size > largest {
			largest = size
		}
		outliers = append(outliers, map[string]any{
			"trade_id":  t.ID,
			"price":     t.Price,
			"size":      t.Size,
			"side":      string(t.Side),
			"timestamp": t.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}

	return domain.AlertCandidate{
		Type:     domain.AlertWhaleActivity,
		Severity: domain.SeverityMedium,
		MarketID: marketID,
		Title:    fmt.Sprintf("Whale activity: $%.0f trade", largest),
		Description: fmt.Sprintf(
			"%d trade(s) above %.0fx the mean size of $%.0f",
			len(stats.Outliers), e.cfg.WhaleMultiple, stats.Mean,
		),
		Data: map[string]any{
			"token_id":    tokenID,
			"mean_size":   stats.Mean,
			"median_size": stats.Median,
			"max_size":    stats.Max,
			"trade_count": stats.Count,
			"outliers":    outliers,
		},
		CreatedAt: batch.Now,
	}, true
}

func (e *Engine) pullbackCandidate(batch *domain.Batch, tokenID, marketID string) (domain.AlertCandidate, bool) {
	history := batch.BookHistory[tokenID]
	if len(history) == 0 {
		return domain.AlertCandidate{}, false
	}
	p, ok := analytics.DetectPullback(
		history, batch.Now,
		e.cfg.RecentWindow, e.cfg.BaselineLookback,
		e.cfg.SpreadWidenRatio, e.cfg.DepthDropPct,
	)
	if !ok || !p.Flagged {
		return domain.AlertCandidate{}, false
	}

	severity := domain.SeverityMedium
	if p.DepthDropped {
		severity = domain.SeverityHigh
	}
	return domain.AlertCandidate{
		Type:     domain.AlertMMPullback,
		Severity: severity,
		MarketID: marketID,
		Title:    fmt.Sprintf("MM pullback: %.0f%% depth reduction", p.DepthDropPct*100),
		Description: fmt.Sprintf(
			"1%% depth moved from $%.0f to $%.0f; spread ratio %.2f",
			p.HistoricalDepth, p.RecentDepth, p.SpreadRatio,
		),
		Data: map[string]any{
			"token_id":         tokenID,
			"previous_depth":   p.HistoricalDepth,
			"current_depth":    p.RecentDepth,
			"depth_drop_pct":   p.DepthDropPct,
			"depth_ratio":      p.DepthRatio,
			"spread_ratio":     p.SpreadRatio,
			"spread_unbounded": p.SpreadUnbounded,
			"spread_widened":   p.SpreadWidened,
			"depth_dropped":    p.DepthDropped,
		},
		CreatedAt: batch.Now,
	}, true
}

// sortCandidates orders the output deterministically regardless of worker
// completion order.
func sortCandidates(cands []domain.AlertCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.MarketID != b.MarketID {
			return a.MarketID < b.MarketID
		}
		ra := strings.Join(a.RelatedMarketIDs, ",")
		rb := strings.Join(b.RelatedMarketIDs, ",")
		if ra != rb {
			return ra < rb
		}
		return a.Title < b.Title
	})
}
