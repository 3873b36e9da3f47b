package domain

import "time"

// Batch is the frozen input to one analysis cycle. The driver assembles it
// from the providers, hands it to the engine, and discards it afterwards;
// the engine holds no state across cycles.
type Batch struct {
	Now time.Time

	// Markets keyed by market ID.
	Markets map[string]MarketSnapshot

	// Books holds the latest snapshot per token ID.
	Books map[string]OrderBookSnapshot

	// BookHistory holds windowed historical snapshots per token ID, ordered
	// oldest first.
	BookHistory map[string][]OrderBookSnapshot

	// Trades holds windowed trades per token ID, ordered oldest first.
	Trades map[string][]Trade

	Edges []RelationshipEdge
}

// MarketForToken resolves which market a token belongs to.
func (b *Batch) MarketForToken(tokenID string) (MarketSnapshot, bool) {
	for _, m := range b.Markets {
		for _, o := range m.Outcomes {
			if o.TokenID == tokenID {
				return m, true
			}
		}
	}
	return MarketSnapshot{}, false
}

// TokenMarketIndex builds a token -> market ID index once per cycle so hot
// paths avoid the linear scan in MarketForToken.
func (b *Batch) TokenMarketIndex() map[string]string {
	idx := make(map[string]string, 2*len(b.Markets))
	for id, m := range b.Markets {
		for _, o := range m.Outcomes {
			if o.TokenID != "" {
				idx[o.TokenID] = id
			}
		}
	}
	return idx
}
