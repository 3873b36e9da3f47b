package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polypulse/polypulse/internal/domain"
)

func book(bids, asks []domain.PriceLevel) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		TokenID:   "tok-1",
		MarketID:  "mkt-1",
		Timestamp: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		Bids:      bids,
		Asks:      asks,
	}
}

func TestComputeSpread(t *testing.T) {
	b := book(
		[]domain.PriceLevel{{Price: 0.48, Size: 100}, {Price: 0.45, Size: 200}},
		[]domain.PriceLevel{{Price: 0.52, Size: 100}, {Price: 0.55, Size: 200}},
	)

	q, ok := ComputeSpread(b)
	require.True(t, ok)
	assert.InDelta(t, 0.48, q.BestBid, 1e-9)
	assert.InDelta(t, 0.52, q.BestAsk, 1e-9)
	assert.InDelta(t, 0.50, q.MidPrice, 1e-9)
	assert.InDelta(t, 0.04, q.Spread, 1e-9)
	assert.InDelta(t, 0.08, q.SpreadPct, 1e-9)
}

func TestComputeSpread_AbsentSideIsNotZero(t *testing.T) {
	// A book with no asks must report "no spread", not a spread computed
	// against a defaulted zero price.
	noAsks := book([]domain.PriceLevel{{Price: 0.48, Size: 100}}, nil)
	_, ok := ComputeSpread(noAsks)
	assert.False(t, ok)

	noBids := book(nil, []domain.PriceLevel{{Price: 0.52, Size: 100}})
	_, ok = ComputeSpread(noBids)
	assert.False(t, ok)

	// Zero-priced levels do not count as a side either.
	zeroed := book(
		[]domain.PriceLevel{{Price: 0, Size: 100}},
		[]domain.PriceLevel{{Price: 0.52, Size: 100}},
	)
	_, ok = ComputeSpread(zeroed)
	assert.False(t, ok)
}

func TestComputeSpread_CrossedBook(t *testing.T) {
	crossed := book(
		[]domain.PriceLevel{{Price: 0.55, Size: 100}},
		[]domain.PriceLevel{{Price: 0.52, Size: 100}},
	)
	_, ok := ComputeSpread(crossed)
	assert.False(t, ok)

	// Touching (bid == ask) counts as crossed too.
	touching := book(
		[]domain.PriceLevel{{Price: 0.52, Size: 100}},
		[]domain.PriceLevel{{Price: 0.52, Size: 100}},
	)
	_, ok = ComputeSpread(touching)
	assert.False(t, ok)
}

func TestDepthAt_TierMonotonicity(t *testing.T) {
	b := book(
		[]domain.PriceLevel{
			{Price: 0.50, Size: 100},
			{Price: 0.495, Size: 200},
			{Price: 0.48, Size: 300},
			{Price: 0.40, Size: 1000},
		},
		[]domain.PriceLevel{
			{Price: 0.52, Size: 100},
			{Price: 0.53, Size: 200},
			{Price: 0.56, Size: 300},
			{Price: 0.70, Size: 1000},
		},
	)

	tiers := []float64{0.005, 0.01, 0.02, 0.05, 0.10, 0.50}
	var prev DepthMetrics
	for i, tier := range tiers {
		m := DepthAt(b, tier)
		if i > 0 {
			assert.GreaterOrEqual(t, m.BidDepth, prev.BidDepth, "bid depth must not shrink as the tier widens")
			assert.GreaterOrEqual(t, m.AskDepth, prev.AskDepth, "ask depth must not shrink as the tier widens")
		}
		prev = m
	}

	// 1% around best bid 0.50 keeps levels >= 0.495.
	m := DepthAt(b, 0.01)
	assert.InDelta(t, 0.50*100+0.495*200, m.BidDepth, 1e-9)
	assert.InDelta(t, 0.52*100, m.AskDepth, 1e-9)
}

func TestDollarDepth_EmptySideIsZero(t *testing.T) {
	assert.Zero(t, DollarDepth(nil, 0.50, 0.01, true))
	assert.Zero(t, DollarDepth([]domain.PriceLevel{{Price: 0.5, Size: 10}}, 0, 0.01, true))
}

func TestImbalance(t *testing.T) {
	assert.InDelta(t, 0.0, Imbalance(0, 0), 1e-9)
	assert.InDelta(t, 1.0, Imbalance(500, 0), 1e-9)
	assert.InDelta(t, -1.0, Imbalance(0, 500), 1e-9)
	assert.InDelta(t, 0.0, Imbalance(500, 500), 1e-9)
	assert.InDelta(t, 1.0/3.0, Imbalance(1000, 500), 1e-9)
}

func TestSimulateSlippage_FullFill(t *testing.T) {
	b := book(nil, []domain.PriceLevel{
		{Price: 0.50, Size: 100},
		{Price: 0.55, Size: 100},
	})

	res, ok := SimulateSlippage(b, 40, domain.TradeSideBuy)
	require.True(t, ok)
	assert.False(t, res.Partial)
	assert.InDelta(t, 40, res.FilledDollars, 1e-9)
	assert.Zero(t, res.UnfilledDollars)
	assert.InDelta(t, 80, res.FilledShares, 1e-9)
	assert.InDelta(t, 0.50, res.AvgPrice, 1e-9)
	assert.Zero(t, res.SlippagePct)
	assert.Equal(t, 1, res.LevelsConsumed)
}

func TestSimulateSlippage_MultiLevel(t *testing.T) {
	b := book(nil, []domain.PriceLevel{
		{Price: 0.50, Size: 100}, // $50 capacity
		{Price: 0.55, Size: 100}, // $55 capacity
	})

	res, ok := SimulateSlippage(b, 75, domain.TradeSideBuy)
	require.True(t, ok)
	assert.False(t, res.Partial)
	assert.InDelta(t, 75, res.FilledDollars, 1e-9)
	assert.InDelta(t, 100+25/0.55, res.FilledShares, 1e-9)
	assert.InDelta(t, 75/(100+25/0.55), res.AvgPrice, 1e-9)
	assert.Greater(t, res.SlippagePct, 0.0)
	assert.Equal(t, 2, res.LevelsConsumed)
}

func TestSimulateSlippage_PartialFillIsNotAnError(t *testing.T) {
	b := book(nil, []domain.PriceLevel{
		{Price: 0.50, Size: 100},
		{Price: 0.55, Size: 100},
	})

	// The whole ask side carries $105; asking for $200 fills what exists
	// and reports the remainder, rather than failing.
	res, ok := SimulateSlippage(b, 200, domain.TradeSideBuy)
	require.True(t, ok)
	assert.True(t, res.Partial)
	assert.InDelta(t, 105, res.FilledDollars, 1e-9)
	assert.InDelta(t, 95, res.UnfilledDollars, 1e-9)
	assert.InDelta(t, 200, res.FilledDollars+res.UnfilledDollars, 1e-9)
}

func TestSimulateSlippage_SellWalksBids(t *testing.T) {
	b := book([]domain.PriceLevel{
		{Price: 0.48, Size: 100},
		{Price: 0.45, Size: 100},
	}, nil)

	res, ok := SimulateSlippage(b, 60, domain.TradeSideSell)
	require.True(t, ok)
	assert.InDelta(t, 0.48, res.BestPrice, 1e-9)
	assert.Equal(t, 2, res.LevelsConsumed)

	// No asks at all: a buy has nothing to walk.
	_, ok = SimulateSlippage(b, 60, domain.TradeSideBuy)
	assert.False(t, ok)
}

func TestSimulateSlippage_DoesNotMutateTheBook(t *testing.T) {
	asks := []domain.PriceLevel{
		{Price: 0.55, Size: 100},
		{Price: 0.50, Size: 100}, // deliberately unsorted
	}
	b := book(nil, asks)

	first, ok := SimulateSlippage(b, 75, domain.TradeSideBuy)
	require.True(t, ok)
	second, ok := SimulateSlippage(b, 75, domain.TradeSideBuy)
	require.True(t, ok)

	assert.Equal(t, first, second)
	assert.Equal(t, 0.55, asks[0].Price, "input levels must keep their order")
	assert.InDelta(t, 0.50, first.BestPrice, 1e-9, "walk starts at the best price regardless of input order")
}

func TestAnalyzeSpreadPattern(t *testing.T) {
	now := time.Date(2025, 6, 15, 23, 0, 0, 0, time.UTC)
	mkSnap := func(hoursAgo int, bid, ask float64) domain.OrderBookSnapshot {
		s := book(
			[]domain.PriceLevel{{Price: bid, Size: 100}},
			[]domain.PriceLevel{{Price: ask, Size: 100}},
		)
		s.Timestamp = now.Add(-time.Duration(hoursAgo) * time.Hour)
		return s
	}

	history := []domain.OrderBookSnapshot{
		mkSnap(20, 0.49, 0.51), // hour 3, tight
		mkSnap(20, 0.49, 0.51),
		mkSnap(16, 0.45, 0.55), // hour 7, wide
		mkSnap(16, 0.44, 0.56),
		mkSnap(16, 0.55, 0.45), // crossed, excluded
		mkSnap(30, 0.40, 0.60), // outside the window
	}

	p, ok := AnalyzeSpreadPattern(history, now, 24*time.Hour)
	require.True(t, ok)
	assert.Equal(t, 4, p.SnapshotCount)
	assert.Equal(t, 3, p.BestHour)
	assert.Equal(t, 7, p.WorstHour)
	assert.Len(t, p.Hourly, 2)
	assert.Equal(t, 2, p.Hourly[3].SnapshotCount)
	assert.InDelta(t, 0.04, p.Hourly[3].AvgSpreadPct, 1e-9)

	_, ok = AnalyzeSpreadPattern(history, now.Add(48*time.Hour), time.Hour)
	assert.False(t, ok, "an empty window has no pattern")
}
