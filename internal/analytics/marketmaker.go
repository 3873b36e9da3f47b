package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/polypulse/polypulse/internal/domain"
)

// Presence buckets.
const (
	PresenceLow      = "low"      // score < 40
	PresenceModerate = "moderate" // 40 - 70
	PresenceStrong   = "strong"   // score > 70
)

// Presence is a 0-100 estimate of how actively a liquidity provider is
// quoting a market.
type Presence struct {
	Score             float64
	Bucket            string
	SpreadConsistency float64 // 0-1, inverse variance of spread_pct
	SizeSymmetry      float64 // 0-1, share of snapshots with near-equal top sizes
	AvgSpreadPct      float64
	SnapshotCount     int
}

// spreadStdScale is the spread_pct standard deviation at which the
// consistency component reaches zero.
const spreadStdScale = 0.05

// symmetryTolerance is the max relative difference between top-of-book bid
// and ask sizes still counted as symmetric quoting.
const symmetryTolerance = 0.20

// ScorePresence scores market-maker presence over the window ending at now.
// It combines spread consistency (a market maker quotes a steady spread)
// with top-of-book size symmetry (a market maker quotes both sides in
// similar size). ok is false when no usable snapshot falls in the window.
func ScorePresence(history []domain.OrderBookSnapshot, now time.Time, window time.Duration) (Presence, bool) {
	cutoff := now.Add(-window)

	var spreads []float64
	symmetric, sided := 0, 0
	for _, snap := range history {
		if snap.Timestamp.Before(cutoff) || snap.Timestamp.After(now) {
			continue
		}
		q, ok := ComputeSpread(snap)
		if !ok {
			continue
		}
		spreads = append(spreads, q.SpreadPct)

		bidSize, askSize := topSizes(snap)
		if bidSize > 0 && askSize > 0 {
			sided++
			larger := math.Max(bidSize, askSize)
			if math.Abs(bidSize-askSize)/larger <= symmetryTolerance {
				symmetric++
			}
		}
	}
	if len(spreads) == 0 {
		return Presence{}, false
	}

	var sum float64
	for _, s := range spreads {
		sum += s
	}
	mean := sum / float64(len(spreads))

	var variance float64
	for _, s := range spreads {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(spreads))

	consistency := math.Max(0, 1-math.Sqrt(variance)/spreadStdScale)
	symmetry := 0.0
	if sided > 0 {
		symmetry = float64(symmetric) / float64(sided)
	}

	p := Presence{
		Score:             (0.5*consistency + 0.5*symmetry) * 100,
		SpreadConsistency: consistency,
		SizeSymmetry:      symmetry,
		AvgSpreadPct:      mean,
		SnapshotCount:     len(spreads),
	}
	switch {
	case p.Score < 40:
		p.Bucket = PresenceLow
	case p.Score > 70:
		p.Bucket = PresenceStrong
	default:
		p.Bucket = PresenceModerate
	}
	return p, true
}

// topSizes returns the sizes quoted at the best bid and best ask.
func topSizes(snap domain.OrderBookSnapshot) (bidSize, askSize float64) {
	if bid, ok := snap.BestBid(); ok {
		for _, l := range snap.Bids {
			if l.Price == bid {
				bidSize += l.Size
			}
		}
	}
	if ask, ok := snap.BestAsk(); ok {
		for _, l := range snap.Asks {
			if l.Price == ask {
				askSize += l.Size
			}
		}
	}
	return bidSize, askSize
}

// Pullback compares recent liquidity provision against the trailing
// historical norm.
type Pullback struct {
	RecentSpreadPct     float64
	HistoricalSpreadPct float64
	SpreadRatio         float64 // recent / historical
	SpreadUnbounded     bool    // historical spread was zero, recent is not

	RecentDepth     float64 // avg bid+ask dollar depth at 1%
	HistoricalDepth float64
	DepthRatio      float64 // recent / historical
	DepthDropPct    float64 // 1 - DepthRatio

	SpreadWidened bool
	DepthDropped  bool
	Flagged       bool
}

// DetectPullback averages spread and 1% depth over the trailing recentWindow
// and over [now-historicalWindow, now-recentWindow), then flags a pullback
// when the spread widened past spreadRatioLimit or depth dropped by more
// than depthDropLimit. Either condition alone suffices. ok is false when
// either period has no usable snapshots.
func DetectPullback(
	history []domain.OrderBookSnapshot,
	now time.Time,
	recentWindow, historicalWindow time.Duration,
	spreadRatioLimit, depthDropLimit float64,
) (Pullback, bool) {
	recentStart := now.Add(-recentWindow)
	histStart := now.Add(-historicalWindow)

	var recentSpreads, histSpreads []float64
	var recentDepths, histDepths []float64

	for _, snap := range history {
		ts := snap.Timestamp
		if ts.Before(histStart) || ts.After(now) {
			continue
		}
		// A crossed book is a data-quality fault, not liquidity; its sizes
		// must not enter the depth averages.
		if snap.Crossed() {
			continue
		}
		q, okQ := ComputeSpread(snap)
		d := DepthAt(snap, 0.01)
		depth := d.BidDepth + d.AskDepth

		if ts.After(recentStart) {
			if okQ {
				recentSpreads = append(recentSpreads, q.SpreadPct)
			}
			recentDepths = append(recentDepths, depth)
		} else {
			if okQ {
				histSpreads = append(histSpreads, q.SpreadPct)
			}
			histDepths = append(histDepths, depth)
		}
	}
	if len(recentDepths) == 0 || len(histDepths) == 0 {
		return Pullback{}, false
	}

	p := Pullback{
		RecentSpreadPct:     mean(recentSpreads),
		HistoricalSpreadPct: mean(histSpreads),
		RecentDepth:         mean(recentDepths),
		HistoricalDepth:     mean(histDepths),
	}

	if p.HistoricalSpreadPct > 0 {
		p.SpreadRatio = p.RecentSpreadPct / p.HistoricalSpreadPct
		p.SpreadWidened = p.SpreadRatio > spreadRatioLimit
	} else if p.RecentSpreadPct > 0 {
		// Spread appearing where there was none is the maximal widening.
		p.SpreadUnbounded = true
		p.SpreadWidened = true
	}

	if p.HistoricalDepth > 0 {
		p.DepthRatio = p.RecentDepth / p.HistoricalDepth
		p.DepthDropPct = 1 - p.DepthRatio
		p.DepthDropped = p.DepthDropPct > depthDropLimit
	}

	p.Flagged = p.SpreadWidened || p.DepthDropped
	return p, true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// HourQuality scores one hour of day for trading conditions across markets.
type HourQuality struct {
	Hour          int
	AvgSpreadPct  float64
	AvgDepth      float64
	QualityScore  float64
	MarketCount   int
	SnapshotCount int
}

// Normalization scales for the hour quality score: a 10% spread scores zero
// on the spread component, $10k of 1% depth saturates the depth component.
const (
	qualitySpreadScale = 0.10
	qualityDepthScale  = 10000.0
)

// BestHoursOverall aggregates a quality score per hour of day across all
// supplied token histories. Quality weights tight spreads over raw depth.
// The result is ranked best-first; ties resolve to the earlier hour.
func BestHoursOverall(histories map[string][]domain.OrderBookSnapshot, now time.Time, window time.Duration) []HourQuality {
	cutoff := now.Add(-window)

	type hourAgg struct {
		spreads []float64
		depths  []float64
		markets map[string]struct{}
	}
	hours := make(map[int]*hourAgg)

	// Iterate tokens in sorted order so per-hour aggregation order (and any
	// floating point summation) is deterministic.
	tokenIDs := make([]string, 0, len(histories))
	for id := range histories {
		tokenIDs = append(tokenIDs, id)
	}
	sort.Strings(tokenIDs)

	for _, tokenID := range tokenIDs {
		for _, snap := range histories[tokenID] {
			if snap.Timestamp.Before(cutoff) || snap.Timestamp.After(now) {
				continue
			}
			q, ok := ComputeSpread(snap)
			if !ok {
				continue
			}
			d := DepthAt(snap, 0.01)
			h := snap.Timestamp.UTC().Hour()
			agg := hours[h]
			if agg == nil {
				agg = &hourAgg{markets: make(map[string]struct{})}
				hours[h] = agg
			}
			agg.spreads = append(agg.spreads, q.SpreadPct)
			agg.depths = append(agg.depths, d.BidDepth+d.AskDepth)
			agg.markets[tokenID] = struct{}{}
		}
	}

	out := make([]HourQuality, 0, len(hours))
	for h := 0; h < 24; h++ {
		agg, ok := hours[h]
		if !ok {
			continue
		}
		avgSpread := mean(agg.spreads)
		avgDepth := mean(agg.depths)
		spreadScore := math.Max(0, 1-avgSpread/qualitySpreadScale)
		depthScore := math.Min(1, avgDepth/qualityDepthScale)
		out = append(out, HourQuality{
			Hour:          h,
			AvgSpreadPct:  avgSpread,
			AvgDepth:      avgDepth,
			QualityScore:  0.6*spreadScore + 0.4*depthScore,
			MarketCount:   len(agg.markets),
			SnapshotCount: len(agg.spreads),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].QualityScore > out[j].QualityScore
	})
	return out
}
