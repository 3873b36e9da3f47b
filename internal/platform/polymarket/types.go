package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/polypulse/polypulse/internal/domain"
)

// --------------------------------------------------------------------------
// JSON helpers for Gamma's loose typing
// --------------------------------------------------------------------------

// flexBool unmarshals a JSON boolean that the Gamma API sometimes returns as
// the strings "true"/"false" instead of a real boolean.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	switch s {
	case "true", "True", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// stringSlice unmarshals a field that Gamma returns either as a JSON array
// or as a JSON string containing an encoded array, e.g. `"[\"Yes\",\"No\"]"`.
type stringSlice []string

func (s *stringSlice) UnmarshalJSON(data []byte) error {
	var direct []string
	if err := json.Unmarshal(data, &direct); err == nil {
		*s = direct
		return nil
	}

	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	if encoded == "" {
		*s = nil
		return nil
	}

	var inner []string
	if err := json.Unmarshal([]byte(encoded), &inner); err != nil {
		return err
	}
	*s = inner
	return nil
}

// flexFloat unmarshals a number that may arrive as a JSON number or a string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// --------------------------------------------------------------------------
// Gamma API types
// --------------------------------------------------------------------------

// APIMarket is a market record from the Gamma markets API. Outcomes,
// OutcomePrices and ClobTokenIDs arrive as JSON-encoded strings.
type APIMarket struct {
	ID             string      `json:"id"`
	ConditionID    string      `json:"conditionId"`
	Slug           string      `json:"slug"`
	Question       string      `json:"question"`
	Outcomes       stringSlice `json:"outcomes"`
	OutcomePrices  stringSlice `json:"outcomePrices"`
	ClobTokenIDs   stringSlice `json:"clobTokenIds"`
	Volume         flexFloat   `json:"volume"`
	VolumeNum      flexFloat   `json:"volumeNum"`
	Liquidity      flexFloat   `json:"liquidity"`
	LiquidityNum   flexFloat   `json:"liquidityNum"`
	Active         flexBool    `json:"active"`
	Closed         flexBool    `json:"closed"`
	EndDate        string      `json:"endDate"`
	Category       string      `json:"category"`
	CreatedAt      string      `json:"createdAt"`
	UpdatedAt      string      `json:"updatedAt"`
}

// ToSnapshot converts a Gamma market to a domain.MarketSnapshot. Outcome
// names, prices and token IDs are zipped positionally; a market whose three
// arrays disagree in length gets the shortest common prefix.
func (m *APIMarket) ToSnapshot() domain.MarketSnapshot {
	snap := domain.MarketSnapshot{
		ID:          m.ID,
		ConditionID: m.ConditionID,
		Slug:        m.Slug,
		Question:    m.Question,
		Volume:      float64(m.Volume),
		Liquidity:   float64(m.Liquidity),
		Active:      bool(m.Active) && !bool(m.Closed),
		Category:    m.Category,
	}
	if snap.Volume == 0 {
		snap.Volume = float64(m.VolumeNum)
	}
	if snap.Liquidity == 0 {
		snap.Liquidity = float64(m.LiquidityNum)
	}

	for i, name := range m.Outcomes {
		o := domain.Outcome{Name: name}
		if i < len(m.OutcomePrices) {
			if p, err := strconv.ParseFloat(m.OutcomePrices[i], 64); err == nil {
				o.Price = p
			}
		}
		if i < len(m.ClobTokenIDs) {
			o.TokenID = m.ClobTokenIDs[i]
		}
		snap.Outcomes = append(snap.Outcomes, o)
	}

	if t, err := parseTimestamp(m.EndDate); err == nil {
		snap.EndDate = &t
	}
	if t, err := parseTimestamp(m.CreatedAt); err == nil {
		snap.CreatedAt = t
	}
	if t, err := parseTimestamp(m.UpdatedAt); err == nil {
		snap.UpdatedAt = t
	}

	return snap
}

// parseTimestamp accepts the timestamp shapes the Polymarket APIs emit:
// RFC3339, RFC3339 without zone, and unix seconds or milliseconds.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, domain.ErrNotFound
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, domain.ErrNotFound
}

// --------------------------------------------------------------------------
// CLOB API types
// --------------------------------------------------------------------------

// APIPriceLevel is a single price level as returned by the CLOB book
// endpoints and the WebSocket feed. Both fields are decimal strings.
type APIPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is an orderbook response from GET /book or POST /books.
type APIBook struct {
	Market    string          `json:"market"`
	AssetID   string          `json:"asset_id"`
	Timestamp string          `json:"timestamp"`
	Bids      []APIPriceLevel `json:"bids"`
	Asks      []APIPriceLevel `json:"asks"`
}

// ToSnapshot converts a CLOB book to a domain.OrderBookSnapshot. The CLOB
// returns bids ascending and asks descending, so both sides are reversed to
// put the best price first.
func (b *APIBook) ToSnapshot() domain.OrderBookSnapshot {
	snap := domain.OrderBookSnapshot{
		TokenID:  b.AssetID,
		MarketID: b.Market,
		Bids:     levelsToDomain(b.Bids, true),
		Asks:     levelsToDomain(b.Asks, false),
	}

	if ms, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		if ms > 1e12 {
			snap.Timestamp = time.UnixMilli(ms).UTC()
		} else {
			snap.Timestamp = time.Unix(ms, 0).UTC()
		}
	} else {
		snap.Timestamp = time.Now().UTC()
	}

	return snap
}

// levelsToDomain parses decimal-string levels and orders them best-first:
// bids descending by price, asks ascending.
func levelsToDomain(levels []APIPriceLevel, descending bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		p, errP := strconv.ParseFloat(lvl.Price, 64)
		s, errS := strconv.ParseFloat(lvl.Size, 64)
		if errP != nil || errS != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}

	sorted := true
	for i := 1; i < len(out); i++ {
		if descending && out[i].Price > out[i-1].Price {
			sorted = false
			break
		}
		if !descending && out[i].Price < out[i-1].Price {
			sorted = false
			break
		}
	}
	if !sorted {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	return out
}

// APITrade is a fill record from the data API trades endpoint.
type APITrade struct {
	TransactionHash string    `json:"transactionHash"`
	AssetID         string    `json:"asset"`
	ConditionID     string    `json:"conditionId"`
	Price           flexFloat `json:"price"`
	Size            flexFloat `json:"size"`
	Side            string    `json:"side"`
	Timestamp       int64     `json:"timestamp"`
	Outcome         string    `json:"outcome"`
	OutcomeIndex    int       `json:"outcomeIndex"`
}

// ToTrade converts a data API fill to a domain.Trade. The domain trade size
// is the dollar notional of the fill, not the share count.
func (t *APITrade) ToTrade(marketID string) domain.Trade {
	trade := domain.Trade{
		ID:        t.TransactionHash + ":" + strconv.Itoa(t.OutcomeIndex),
		TokenID:   t.AssetID,
		MarketID:  marketID,
		Price:     float64(t.Price),
		Size:      float64(t.Price) * float64(t.Size),
		Timestamp: time.Unix(t.Timestamp, 0).UTC(),
	}
	switch strings.ToUpper(t.Side) {
	case "SELL":
		trade.Side = domain.TradeSideSell
	default:
		trade.Side = domain.TradeSideBuy
	}
	return trade
}

// --------------------------------------------------------------------------
// WebSocket types
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to the market WebSocket to subscribe
// or unsubscribe.
type WSCommand struct {
	Type   string   `json:"type"` // "subscribe" or "unsubscribe"
	Assets []string `json:"assets_ids,omitempty"`
}

// BookMessage is a full orderbook snapshot pushed on the "book" channel. It
// shares the wire shape of the REST book response plus the event envelope.
type BookMessage struct {
	EventType string          `json:"event_type"`
	Market    string          `json:"market"`
	AssetID   string          `json:"asset_id"`
	Timestamp string          `json:"timestamp"`
	Bids      []APIPriceLevel `json:"bids"`
	Asks      []APIPriceLevel `json:"asks"`
}

// ToSnapshot converts a WebSocket book message to a domain snapshot.
func (b *BookMessage) ToSnapshot() domain.OrderBookSnapshot {
	book := APIBook{
		Market:    b.Market,
		AssetID:   b.AssetID,
		Timestamp: b.Timestamp,
		Bids:      b.Bids,
		Asks:      b.Asks,
	}
	return book.ToSnapshot()
}
