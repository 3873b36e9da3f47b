package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook. Size is in shares.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot is a full snapshot of bids and asks for one outcome token
// at a point in time. Snapshots form an append-only time series.
type OrderBookSnapshot struct {
	TokenID   string
	MarketID  string
	Timestamp time.Time
	Bids      []PriceLevel // sorted best (highest) first by the collector
	Asks      []PriceLevel // sorted best (lowest) first by the collector
}

// BestBid returns the highest bid price. ok is false when the bid side is
// empty; an absent side must never be defaulted to a price.
func (s OrderBookSnapshot) BestBid() (float64, bool) {
	best, ok := 0.0, false
	for _, l := range s.Bids {
		if l.Price <= 0 || l.Size <= 0 {
			continue
		}
		if !ok || l.Price > best {
			best, ok = l.Price, true
		}
	}
	return best, ok
}

// BestAsk returns the lowest ask price, with ok false for an empty side.
func (s OrderBookSnapshot) BestAsk() (float64, bool) {
	best, ok := 0.0, false
	for _, l := range s.Asks {
		if l.Price <= 0 || l.Size <= 0 {
			continue
		}
		if !ok || l.Price < best {
			best, ok = l.Price, true
		}
	}
	return best, ok
}

// MidPrice returns the bid/ask midpoint when both sides are present.
func (s OrderBookSnapshot) MidPrice() (float64, bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// Crossed reports whether best bid >= best ask. A crossed snapshot is a
// data-quality fault and must be excluded from computation, never used to
// derive a negative spread.
func (s OrderBookSnapshot) Crossed() bool {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	return okB && okA && bid >= ask
}
