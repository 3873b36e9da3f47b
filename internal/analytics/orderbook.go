// Package analytics contains the pure per-market computations: order-book
// metrics, volume baselines, and market-maker profiling. Every function is a
// deterministic transformation of its inputs; nothing here touches the clock,
// the network, or storage.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/polypulse/polypulse/internal/domain"
)

// Quote summarizes the top of a book. All fields are derived from best bid
// and best ask; a Quote only exists when both sides are present.
type Quote struct {
	BestBid   float64
	BestAsk   float64
	MidPrice  float64
	Spread    float64
	SpreadPct float64
}

// ComputeSpread derives the spread for a snapshot. ok is false when either
// side is empty or the book is crossed; an absent side propagates as absent
// rather than manufacturing a false spread from a defaulted price.
func ComputeSpread(book domain.OrderBookSnapshot) (Quote, bool) {
	bid, okB := book.BestBid()
	ask, okA := book.BestAsk()
	if !okB || !okA || bid >= ask {
		return Quote{}, false
	}
	mid := (bid + ask) / 2
	spread := ask - bid
	return Quote{
		BestBid:   bid,
		BestAsk:   ask,
		MidPrice:  mid,
		Spread:    spread,
		SpreadPct: spread / mid,
	}, true
}

// DollarDepth sums the dollar value (price * size) of levels within tierPct
// of the reference price: bids with price >= ref*(1-tier), asks with price
// <= ref*(1+tier). An empty side is a genuine zero, not an absent value.
func DollarDepth(levels []domain.PriceLevel, reference, tierPct float64, isBid bool) float64 {
	if reference <= 0 {
		return 0
	}
	threshold := reference * (1 + tierPct)
	if isBid {
		threshold = reference * (1 - tierPct)
	}
	var total float64
	for _, l := range levels {
		if l.Price <= 0 || l.Size <= 0 {
			continue
		}
		if isBid && l.Price >= threshold {
			total += l.Price * l.Size
		} else if !isBid && l.Price <= threshold {
			total += l.Price * l.Size
		}
	}
	return total
}

// DepthMetrics is the per-side dollar depth at one tier.
type DepthMetrics struct {
	TierPct  float64
	BidDepth float64
	AskDepth float64
}

// DepthAt computes both sides' dollar depth within tierPct of each side's
// own best price. Widening the tier can only add volume, so for a fixed side
// depth is monotonically non-decreasing in tierPct.
func DepthAt(book domain.OrderBookSnapshot, tierPct float64) DepthMetrics {
	m := DepthMetrics{TierPct: tierPct}
	if bid, ok := book.BestBid(); ok {
		m.BidDepth = DollarDepth(book.Bids, bid, tierPct, true)
	}
	if ask, ok := book.BestAsk(); ok {
		m.AskDepth = DollarDepth(book.Asks, ask, tierPct, false)
	}
	return m
}

// Imbalance is (bid-ask)/(bid+ask). It is defined as 0 only when both
// depths are exactly 0; a zero on one side alone yields +/-1, which must not
// be conflated with "balanced".
func Imbalance(bidDepth, askDepth float64) float64 {
	total := bidDepth + askDepth
	if total == 0 {
		return 0
	}
	return (bidDepth - askDepth) / total
}

// SlippageResult describes a simulated fill. A partial fill (UnfilledDollars
// > 0) is an expected condition on thin books, not an error.
type SlippageResult struct {
	Side             domain.TradeSide
	RequestedDollars float64
	FilledDollars    float64
	UnfilledDollars  float64
	FilledShares     float64
	BestPrice        float64
	AvgPrice         float64 // volume-weighted average fill price
	SlippagePct      float64 // |avg - best| / best
	LevelsConsumed   int
	Partial          bool
}

// SimulateSlippage walks the requested side of the book best-price-first,
// converting each level's share size to dollar capacity, until the requested
// dollar amount is filled or levels run out. ok is false only when the
// requested side has no usable levels at all.
func SimulateSlippage(book domain.OrderBookSnapshot, dollars float64, side domain.TradeSide) (SlippageResult, bool) {
	var levels []domain.PriceLevel
	if side == domain.TradeSideBuy {
		levels = sortedLevels(book.Asks, false)
	} else {
		levels = sortedLevels(book.Bids, true)
	}
	if len(levels) == 0 {
		return SlippageResult{}, false
	}

	best := levels[0].Price
	remaining := dollars
	var filledDollars, filledShares float64
	consumed := 0

	for _, l := range levels {
		if remaining <= 0 {
			break
		}
		consumed++
		capacity := l.Price * l.Size
		if capacity >= remaining {
			filledDollars += remaining
			filledShares += remaining / l.Price
			remaining = 0
			break
		}
		filledDollars += capacity
		filledShares += l.Size
		remaining -= capacity
	}

	res := SlippageResult{
		Side:             side,
		RequestedDollars: dollars,
		FilledDollars:    filledDollars,
		UnfilledDollars:  remaining,
		FilledShares:     filledShares,
		BestPrice:        best,
		LevelsConsumed:   consumed,
		Partial:          remaining > 0,
	}
	if filledShares > 0 {
		res.AvgPrice = filledDollars / filledShares
		res.SlippagePct = math.Abs(res.AvgPrice-best) / best
	}
	return res, true
}

// sortedLevels returns a copy of levels with zero/negative entries removed,
// sorted best-first (descending for bids, ascending for asks).
func sortedLevels(levels []domain.PriceLevel, isBid bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Price > 0 && l.Size > 0 {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if isBid {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// HourSpread aggregates spread observations for one hour of day.
type HourSpread struct {
	Hour          int
	AvgSpreadPct  float64
	MinSpreadPct  float64
	MaxSpreadPct  float64
	SnapshotCount int
}

// SpreadPattern is the hour-of-day spread profile for a token.
type SpreadPattern struct {
	Hourly        map[int]HourSpread
	BestHour      int // tightest average spread
	WorstHour     int // widest average spread
	OverallAvgPct float64
	SnapshotCount int
}

// AnalyzeSpreadPattern groups historical snapshots by hour of day within the
// window ending at now and averages spread_pct per hour. The same function
// serves the 24h "current pattern" view and the 7x24h "best trading hours"
// view at different window sizes. Crossed or one-sided snapshots are
// excluded. ok is false when no usable snapshot falls inside the window.
func AnalyzeSpreadPattern(history []domain.OrderBookSnapshot, now time.Time, window time.Duration) (SpreadPattern, bool) {
	cutoff := now.Add(-window)
	hourly := make(map[int][]float64)
	var all []float64

	for _, snap := range history {
		if snap.Timestamp.Before(cutoff) || snap.Timestamp.After(now) {
			continue
		}
		q, ok := ComputeSpread(snap)
		if !ok {
			continue
		}
		h := snap.Timestamp.UTC().Hour()
		hourly[h] = append(hourly[h], q.SpreadPct)
		all = append(all, q.SpreadPct)
	}
	if len(all) == 0 {
		return SpreadPattern{}, false
	}

	p := SpreadPattern{
		Hourly:        make(map[int]HourSpread, len(hourly)),
		BestHour:      -1,
		WorstHour:     -1,
		SnapshotCount: len(all),
	}
	var sum float64
	for _, s := range all {
		sum += s
	}
	p.OverallAvgPct = sum / float64(len(all))

	// Iterate hours in order so ties resolve deterministically.
	bestAvg, worstAvg := math.Inf(1), math.Inf(-1)
	for h := 0; h < 24; h++ {
		spreads, ok := hourly[h]
		if !ok {
			continue
		}
		hs := HourSpread{Hour: h, MinSpreadPct: spreads[0], MaxSpreadPct: spreads[0], SnapshotCount: len(spreads)}
		var hsum float64
		for _, s := range spreads {
			hsum += s
			hs.MinSpreadPct = math.Min(hs.MinSpreadPct, s)
			hs.MaxSpreadPct = math.Max(hs.MaxSpreadPct, s)
		}
		hs.AvgSpreadPct = hsum / float64(len(spreads))
		p.Hourly[h] = hs

		if hs.AvgSpreadPct < bestAvg {
			bestAvg, p.BestHour = hs.AvgSpreadPct, h
		}
		if hs.AvgSpreadPct > worstAvg {
			worstAvg, p.WorstHour = hs.AvgSpreadPct, h
		}
	}
	return p, true
}
