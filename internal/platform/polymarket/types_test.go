package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIMarketToSnapshot_StringEncodedArrays(t *testing.T) {
	// Gamma returns outcomes, outcomePrices and clobTokenIds as JSON
	// strings containing encoded arrays.
	raw := `{
		"id": "mkt-1",
		"conditionId": "0xabc",
		"slug": "will-it-rain",
		"question": "Will it rain?",
		"outcomes": "[\"Yes\", \"No\"]",
		"outcomePrices": "[\"0.62\", \"0.38\"]",
		"clobTokenIds": "[\"tok-yes\", \"tok-no\"]",
		"volume": "15000.5",
		"liquidity": "2400",
		"active": "true",
		"closed": false,
		"endDate": "2026-12-31T00:00:00Z",
		"category": "Weather"
	}`

	var m APIMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	snap := m.ToSnapshot()
	assert.Equal(t, "mkt-1", snap.ID)
	assert.True(t, snap.Active)
	assert.Equal(t, 15000.5, snap.Volume)
	assert.Equal(t, 2400.0, snap.Liquidity)

	require.Len(t, snap.Outcomes, 2)
	assert.Equal(t, "Yes", snap.Outcomes[0].Name)
	assert.Equal(t, "tok-yes", snap.Outcomes[0].TokenID)
	assert.Equal(t, 0.62, snap.Outcomes[0].Price)
	assert.Equal(t, 0.38, snap.Outcomes[1].Price)

	require.NotNil(t, snap.EndDate)
	assert.Equal(t, 2026, snap.EndDate.Year())
}

func TestAPIMarketToSnapshot_PlainArrays(t *testing.T) {
	raw := `{
		"id": "mkt-2",
		"outcomes": ["Yes", "No"],
		"outcomePrices": ["0.50", "0.50"],
		"clobTokenIds": ["a", "b"],
		"volumeNum": 900,
		"active": true,
		"closed": true
	}`

	var m APIMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	snap := m.ToSnapshot()
	assert.Equal(t, 900.0, snap.Volume)
	// Closed wins over active.
	assert.False(t, snap.Active)
	require.Len(t, snap.Outcomes, 2)
}

func TestAPIMarketToSnapshot_RaggedArrays(t *testing.T) {
	raw := `{
		"id": "mkt-3",
		"outcomes": "[\"Yes\", \"No\"]",
		"outcomePrices": "[\"0.40\"]",
		"clobTokenIds": "[\"only\"]"
	}`

	var m APIMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	snap := m.ToSnapshot()
	require.Len(t, snap.Outcomes, 2)
	assert.Equal(t, 0.40, snap.Outcomes[0].Price)
	assert.Equal(t, "only", snap.Outcomes[0].TokenID)
	assert.Zero(t, snap.Outcomes[1].Price)
	assert.Empty(t, snap.Outcomes[1].TokenID)
}

func TestAPIBookToSnapshot_ReordersBestFirst(t *testing.T) {
	// The CLOB returns bids ascending and asks descending.
	raw := `{
		"market": "0xabc",
		"asset_id": "tok-yes",
		"timestamp": "1750000000000",
		"bids": [
			{"price": "0.40", "size": "100"},
			{"price": "0.45", "size": "50"},
			{"price": "0.48", "size": "25"}
		],
		"asks": [
			{"price": "0.60", "size": "80"},
			{"price": "0.55", "size": "40"},
			{"price": "0.52", "size": "20"}
		]
	}`

	var b APIBook
	require.NoError(t, json.Unmarshal([]byte(raw), &b))

	snap := b.ToSnapshot()
	assert.Equal(t, "tok-yes", snap.TokenID)
	assert.Equal(t, "0xabc", snap.MarketID)

	require.Len(t, snap.Bids, 3)
	assert.Equal(t, 0.48, snap.Bids[0].Price)
	require.Len(t, snap.Asks, 3)
	assert.Equal(t, 0.52, snap.Asks[0].Price)

	assert.Equal(t, time.UnixMilli(1750000000000).UTC(), snap.Timestamp)
}

func TestAPIBookToSnapshot_DropsMalformedLevels(t *testing.T) {
	raw := `{
		"asset_id": "tok",
		"timestamp": "1750000000",
		"bids": [{"price": "0.50", "size": "10"}, {"price": "oops", "size": "5"}],
		"asks": [{"price": "0.52", "size": "10"}]
	}`

	var b APIBook
	require.NoError(t, json.Unmarshal([]byte(raw), &b))

	snap := b.ToSnapshot()
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, time.Unix(1750000000, 0).UTC(), snap.Timestamp)
}

func TestAPITradeToTrade(t *testing.T) {
	raw := `{
		"transactionHash": "0xdeadbeef",
		"asset": "tok-yes",
		"conditionId": "0xabc",
		"price": 0.55,
		"size": 200,
		"side": "SELL",
		"timestamp": 1750000000,
		"outcomeIndex": 1
	}`

	var at APITrade
	require.NoError(t, json.Unmarshal([]byte(raw), &at))

	tr := at.ToTrade("mkt-1")
	assert.Equal(t, "0xdeadbeef:1", tr.ID)
	assert.Equal(t, "mkt-1", tr.MarketID)
	assert.Equal(t, "tok-yes", tr.TokenID)
	// Size is the dollar notional.
	assert.InDelta(t, 110.0, tr.Size, 1e-9)
	assert.Equal(t, "sell", string(tr.Side))
}

func TestBookMessageToSnapshot(t *testing.T) {
	raw := `{
		"event_type": "book",
		"market": "0xabc",
		"asset_id": "tok-yes",
		"timestamp": "1750000000000",
		"bids": [{"price": "0.49", "size": "10"}],
		"asks": [{"price": "0.51", "size": "10"}]
	}`

	var msg BookMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	snap := msg.ToSnapshot()
	assert.Equal(t, "tok-yes", snap.TokenID)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
}
