package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderBookSnapshot_BestPrices(t *testing.T) {
	b := OrderBookSnapshot{
		Bids: []PriceLevel{{Price: 0.45, Size: 10}, {Price: 0.48, Size: 10}, {Price: 0, Size: 99}},
		Asks: []PriceLevel{{Price: 0.55, Size: 10}, {Price: 0.52, Size: 10}, {Price: 0.51, Size: 0}},
	}

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.InDelta(t, 0.48, bid, 1e-9, "zero-priced levels are placeholders, not quotes")

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.InDelta(t, 0.52, ask, 1e-9, "zero-sized levels do not count")

	assert.False(t, b.Crossed())

	empty := OrderBookSnapshot{}
	_, ok = empty.BestBid()
	assert.False(t, ok)
	_, ok = empty.MidPrice()
	assert.False(t, ok)
}

func TestOrderBookSnapshot_Crossed(t *testing.T) {
	b := OrderBookSnapshot{
		Bids: []PriceLevel{{Price: 0.55, Size: 10}},
		Asks: []PriceLevel{{Price: 0.52, Size: 10}},
	}
	assert.True(t, b.Crossed())

	// One-sided books cannot be crossed.
	oneSided := OrderBookSnapshot{Bids: []PriceLevel{{Price: 0.55, Size: 10}}}
	assert.False(t, oneSided.Crossed())
}

func TestMarketSnapshot_YesOutcome(t *testing.T) {
	m := MarketSnapshot{Outcomes: []Outcome{
		{Name: "No", TokenID: "tok-no", Price: 0.60},
		{Name: "Yes", TokenID: "tok-yes", Price: 0.40},
	}}
	yes, ok := m.YesOutcome()
	require.True(t, ok)
	assert.Equal(t, "tok-yes", yes.TokenID)

	// Non-Yes/No markets fall back to the first outcome.
	m = MarketSnapshot{Outcomes: []Outcome{
		{Name: "Chiefs", TokenID: "tok-1", Price: 0.55},
		{Name: "Eagles", TokenID: "tok-2", Price: 0.45},
	}}
	yes, ok = m.YesOutcome()
	require.True(t, ok)
	assert.Equal(t, "tok-1", yes.TokenID)

	_, ok = MarketSnapshot{}.YesOutcome()
	assert.False(t, ok)
}

func TestAlertCandidate_Key(t *testing.T) {
	a := AlertCandidate{
		Type:             AlertArbitrage,
		MarketID:         "mkt-a",
		RelatedMarketIDs: []string{"mkt-b", "mkt-a"},
	}
	b := AlertCandidate{
		Type:             AlertArbitrage,
		MarketID:         "mkt-a",
		RelatedMarketIDs: []string{"mkt-a", "mkt-b"},
	}
	assert.Equal(t, a.Key(), b.Key(), "related market order must not change the identity")

	c := AlertCandidate{Type: AlertVolumeSpike, MarketID: "mkt-a"}
	assert.NotEqual(t, a.Key(), c.Key())

	// Key must not reorder the candidate's own slice.
	assert.Equal(t, []string{"mkt-b", "mkt-a"}, a.RelatedMarketIDs)
}

func TestBatch_TokenMarketIndex(t *testing.T) {
	batch := &Batch{
		Now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		Markets: map[string]MarketSnapshot{
			"mkt-a": {ID: "mkt-a", Outcomes: []Outcome{
				{Name: "Yes", TokenID: "tok-a-yes"},
				{Name: "No", TokenID: "tok-a-no"},
			}},
			"mkt-b": {ID: "mkt-b", Outcomes: []Outcome{
				{Name: "Yes", TokenID: "tok-b-yes"},
				{Name: "No"}, // token ID not yet assigned
			}},
		},
	}

	idx := batch.TokenMarketIndex()
	assert.Len(t, idx, 3)
	assert.Equal(t, "mkt-a", idx["tok-a-yes"])
	assert.Equal(t, "mkt-b", idx["tok-b-yes"])

	m, ok := batch.MarketForToken("tok-a-no")
	require.True(t, ok)
	assert.Equal(t, "mkt-a", m.ID)
	_, ok = batch.MarketForToken("tok-unknown")
	assert.False(t, ok)
}
