package arbitrage

import (
	"time"

	"github.com/polypulse/polypulse/internal/analytics"
	"github.com/polypulse/polypulse/internal/domain"
)

// PriceSource records where a resolved price came from.
type PriceSource string

const (
	// SourceOrderbook is a live orderbook midpoint within the freshness
	// window.
	SourceOrderbook PriceSource = "orderbook"
	// SourceMarket is the market's listed outcome price, used when no fresh
	// usable orderbook snapshot exists.
	SourceMarket PriceSource = "market"
)

// ResolvePrice resolves a market's YES price for rule evaluation using the
// orderbook-first-with-fallback policy: the live midpoint when the latest
// snapshot is fresh and not crossed, else the listed outcome price.
// Liquidity comes from 1% dollar depth in the orderbook case, otherwise from
// the market's listed liquidity. ok is false when no price can be resolved
// at all, which makes the referencing edge malformed.
func ResolvePrice(m domain.MarketSnapshot, book domain.OrderBookSnapshot, haveBook bool, now time.Time, freshness time.Duration) (MarketPrice, bool) {
	mp := MarketPrice{
		MarketID: m.ID,
		Question: m.Question,
		EndDate:  m.EndDate,
	}

	if haveBook && !book.Crossed() && now.Sub(book.Timestamp) <= freshness {
		if mid, ok := book.MidPrice(); ok {
			d := analytics.DepthAt(book, 0.01)
			mp.Price = mid
			mp.Liquidity = d.BidDepth + d.AskDepth
			mp.Source = SourceOrderbook
			return mp, true
		}
	}

	yes, ok := m.YesOutcome()
	if !ok {
		return MarketPrice{}, false
	}
	mp.Price = yes.Price
	mp.Liquidity = m.Liquidity
	mp.Source = SourceMarket
	return mp, true
}
