package arbitrage

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polypulse/polypulse/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var detNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func binaryMarket(id string, yesPrice, liquidity float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		ID:       id,
		Question: "q-" + id,
		Active:   true,
		Outcomes: []domain.Outcome{
			{Name: "Yes", TokenID: id + "-yes", Price: yesPrice},
			{Name: "No", TokenID: id + "-no", Price: 1 - yesPrice},
		},
		Liquidity: liquidity,
	}
}

func TestDetector_MutuallyExclusiveGroup(t *testing.T) {
	batch := &domain.Batch{
		Now: detNow,
		Markets: map[string]domain.MarketSnapshot{
			"mkt-a": binaryMarket("mkt-a", 0.40, 5000),
			"mkt-b": binaryMarket("mkt-b", 0.55, 5000),
		},
		Edges: []domain.RelationshipEdge{
			{Type: domain.EdgeMutuallyExclusive, ParentMarketID: "mkt-a", ChildMarketID: "mkt-b", GroupID: "grp-1"},
		},
	}

	d := NewDetector(testConfig(), discardLogger())
	cands := d.Evaluate(batch)
	require.Len(t, cands, 1)
	assert.Equal(t, domain.AlertArbitrage, cands[0].Type)
	assert.Equal(t, "grp-1", cands[0].Data["group_id"])
	assert.Equal(t, detNow, cands[0].CreatedAt, "candidates carry the batch's frozen time")
}

func TestDetector_GroupIDMergesEdges(t *testing.T) {
	// Three members connected by two edges of the same group must be
	// evaluated once as a single n-ary group.
	batch := &domain.Batch{
		Now: detNow,
		Markets: map[string]domain.MarketSnapshot{
			"mkt-a": binaryMarket("mkt-a", 0.30, 5000),
			"mkt-b": binaryMarket("mkt-b", 0.30, 5000),
			"mkt-c": binaryMarket("mkt-c", 0.30, 5000),
		},
		Edges: []domain.RelationshipEdge{
			{Type: domain.EdgeMutuallyExclusive, ParentMarketID: "mkt-a", ChildMarketID: "mkt-b", GroupID: "grp-1"},
			{Type: domain.EdgeMutuallyExclusive, ParentMarketID: "mkt-b", ChildMarketID: "mkt-c", GroupID: "grp-1"},
		},
	}

	d := NewDetector(testConfig(), discardLogger())
	cands := d.Evaluate(batch)
	// Sum 0.90 across three legs: 10% gross, 7% net.
	require.Len(t, cands, 1)
	assert.Equal(t, []string{"mkt-a", "mkt-b", "mkt-c"}, cands[0].RelatedMarketIDs)
	assert.InDelta(t, 0.07, cands[0].Data["profit_estimate"].(float64), 1e-9)
}

func TestDetector_MalformedEdgeSkipsOnlyItsGroup(t *testing.T) {
	batch := &domain.Batch{
		Now: detNow,
		Markets: map[string]domain.MarketSnapshot{
			"mkt-a": binaryMarket("mkt-a", 0.40, 5000),
			"mkt-b": binaryMarket("mkt-b", 0.55, 5000),
			"mkt-c": binaryMarket("mkt-c", 0.30, 5000),
		},
		Edges: []domain.RelationshipEdge{
			// References a market absent from the batch.
			{Type: domain.EdgeConditional, ParentMarketID: "mkt-c", ChildMarketID: "mkt-missing"},
			// Healthy group.
			{Type: domain.EdgeMutuallyExclusive, ParentMarketID: "mkt-a", ChildMarketID: "mkt-b", GroupID: "grp-1"},
		},
	}

	d := NewDetector(testConfig(), discardLogger())
	cands := d.Evaluate(batch)
	require.Len(t, cands, 1, "the broken edge must not take the healthy group down with it")
	assert.Equal(t, "grp-1", cands[0].Data["group_id"])
}

func TestDetector_OrderbookPriceBeatsListedPrice(t *testing.T) {
	// Listed prices sum to 0.95, but fresh books put the mids at a combined
	// 1.00: no alert should fire.
	mkBook := func(tokenID string, bid, ask float64) domain.OrderBookSnapshot {
		return domain.OrderBookSnapshot{
			TokenID:   tokenID,
			Timestamp: detNow.Add(-time.Minute),
			Bids:      []domain.PriceLevel{{Price: bid, Size: 10000}},
			Asks:      []domain.PriceLevel{{Price: ask, Size: 10000}},
		}
	}
	batch := &domain.Batch{
		Now: detNow,
		Markets: map[string]domain.MarketSnapshot{
			"mkt-a": binaryMarket("mkt-a", 0.40, 5000),
			"mkt-b": binaryMarket("mkt-b", 0.55, 5000),
		},
		Books: map[string]domain.OrderBookSnapshot{
			"mkt-a-yes": mkBook("mkt-a-yes", 0.44, 0.46),
			"mkt-a-no":  mkBook("mkt-a-no", 0.54, 0.56),
			"mkt-b-yes": mkBook("mkt-b-yes", 0.54, 0.56),
			"mkt-b-no":  mkBook("mkt-b-no", 0.44, 0.46),
		},
		Edges: []domain.RelationshipEdge{
			{Type: domain.EdgeMutuallyExclusive, ParentMarketID: "mkt-a", ChildMarketID: "mkt-b", GroupID: "grp-1"},
		},
	}

	d := NewDetector(testConfig(), discardLogger())
	assert.Empty(t, d.Evaluate(batch))
}

func TestDetector_StaleBookFallsBackToListedPrice(t *testing.T) {
	staleBook := domain.OrderBookSnapshot{
		TokenID:   "mkt-a-yes",
		Timestamp: detNow.Add(-time.Hour),
		Bids:      []domain.PriceLevel{{Price: 0.49, Size: 10000}},
		Asks:      []domain.PriceLevel{{Price: 0.51, Size: 10000}},
	}
	m := binaryMarket("mkt-a", 0.40, 5000)

	mp, ok := ResolvePrice(m, staleBook, true, detNow, 15*time.Minute)
	require.True(t, ok)
	assert.Equal(t, SourceMarket, mp.Source)
	assert.InDelta(t, 0.40, mp.Price, 1e-9)

	fresh := staleBook
	fresh.Timestamp = detNow.Add(-time.Minute)
	mp, ok = ResolvePrice(m, fresh, true, detNow, 15*time.Minute)
	require.True(t, ok)
	assert.Equal(t, SourceOrderbook, mp.Source)
	assert.InDelta(t, 0.50, mp.Price, 1e-9)
}

func TestDetector_CrossedBookFallsBackToListedPrice(t *testing.T) {
	crossed := domain.OrderBookSnapshot{
		TokenID:   "mkt-a-yes",
		Timestamp: detNow.Add(-time.Minute),
		Bids:      []domain.PriceLevel{{Price: 0.55, Size: 10000}},
		Asks:      []domain.PriceLevel{{Price: 0.52, Size: 10000}},
	}
	mp, ok := ResolvePrice(binaryMarket("mkt-a", 0.40, 5000), crossed, true, detNow, 15*time.Minute)
	require.True(t, ok)
	assert.Equal(t, SourceMarket, mp.Source)
}

func TestDetector_IntraMarket(t *testing.T) {
	// Listed outcome prices sum to 0.94: buying both sides locks in 6%.
	m := binaryMarket("mkt-a", 0.40, 5000)
	m.Outcomes[1].Price = 0.54

	batch := &domain.Batch{
		Now:     detNow,
		Markets: map[string]domain.MarketSnapshot{"mkt-a": m},
	}

	d := NewDetector(testConfig(), discardLogger())
	cands := d.Evaluate(batch)
	require.Len(t, cands, 1)
	assert.Equal(t, "intra_market", cands[0].Data["type"])
	assert.InDelta(t, 0.06, cands[0].Data["profit_estimate"].(float64), 1e-9)
	assert.Equal(t, "buy_both_sides", cands[0].Data["strategy"])
	assert.Equal(t, domain.SeverityHigh, cands[0].Severity)
}

func TestDetector_IntraMarketIgnoresInactiveAndNonBinary(t *testing.T) {
	inactive := binaryMarket("mkt-a", 0.40, 5000)
	inactive.Outcomes[1].Price = 0.50
	inactive.Active = false

	multi := binaryMarket("mkt-b", 0.30, 5000)
	multi.Outcomes = append(multi.Outcomes, domain.Outcome{Name: "Maybe", TokenID: "mkt-b-maybe", Price: 0.10})

	batch := &domain.Batch{
		Now: detNow,
		Markets: map[string]domain.MarketSnapshot{
			"mkt-a": inactive,
			"mkt-b": multi,
		},
	}
	d := NewDetector(testConfig(), discardLogger())
	assert.Empty(t, d.Evaluate(batch))
}

func TestDetector_Deterministic(t *testing.T) {
	batch := &domain.Batch{
		Now: detNow,
		Markets: map[string]domain.MarketSnapshot{
			"mkt-a": binaryMarket("mkt-a", 0.40, 5000),
			"mkt-b": binaryMarket("mkt-b", 0.55, 5000),
			"mkt-c": binaryMarket("mkt-c", 0.30, 5000),
			"mkt-d": binaryMarket("mkt-d", 0.45, 5000),
		},
		Edges: []domain.RelationshipEdge{
			{Type: domain.EdgeMutuallyExclusive, ParentMarketID: "mkt-a", ChildMarketID: "mkt-b", GroupID: "grp-1"},
			{Type: domain.EdgeConditional, ParentMarketID: "mkt-c", ChildMarketID: "mkt-d"},
		},
	}

	d := NewDetector(testConfig(), discardLogger())
	first := d.Evaluate(batch)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, d.Evaluate(batch))
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(MutuallyExclusive{})

	rule, err := reg.Get(domain.EdgeMutuallyExclusive)
	require.NoError(t, err)
	assert.Equal(t, domain.EdgeMutuallyExclusive, rule.Type())

	_, err = reg.Get(domain.EdgeSubset)
	assert.Error(t, err)
}
