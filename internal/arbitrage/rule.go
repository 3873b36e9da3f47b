// Package arbitrage evaluates the market relationship graph for pricing
// inconsistencies. Each relationship type has its own Rule implementation
// registered by edge type, so rules are independently testable and a new
// relationship type never touches the existing ones.
package arbitrage

import (
	"time"

	"github.com/polypulse/polypulse/internal/domain"
)

// Config holds the tunable thresholds for rule evaluation. It is constructed
// once per detector and passed explicitly; there is no package-level mutable
// state to leak between cycles or tests.
type Config struct {
	// MinProfit is the minimum estimated profit (after fees) for a
	// mutually-exclusive or intra-market opportunity to alert.
	MinProfit float64
	// FeePerTrade is the estimated fee per outcome leg.
	FeePerTrade float64
	// MinLiquidity is the minimum liquidity every leg must have.
	MinLiquidity float64
	// PriceDelta is the tolerance for pairwise violations (conditional,
	// time-sequence, subset): a child/earlier/specific price must exceed
	// its counterpart by more than this before alerting.
	PriceDelta float64
	// Freshness bounds how old an orderbook snapshot may be before price
	// resolution falls back to the market's listed price.
	Freshness time.Duration
}

// MarketPrice is a market's resolved price for one evaluation.
type MarketPrice struct {
	MarketID  string
	Question  string
	Price     float64
	Liquidity float64
	Source    PriceSource
	EndDate   *time.Time
}

// Group is the input to a single rule evaluation: either one pairwise edge
// or an n-ary mutually-exclusive / time-sequence group with resolved prices.
type Group struct {
	Type    domain.EdgeType
	GroupID string
	// Members are ordered: parent before child for pairwise types, deadline
	// ascending for time sequences, market ID ascending otherwise.
	Members []MarketPrice
}

// Rule checks one relationship type. Evaluate is a pure function of the
// group, returning at most one alert candidate; returning false means no
// violation. Candidates are emitted without CreatedAt, which the detector
// stamps with the cycle's frozen time.
type Rule interface {
	Type() domain.EdgeType
	Evaluate(g Group, cfg Config) (domain.AlertCandidate, bool)
}

// severityForProfit maps an estimated profit to an alert severity.
func severityForProfit(profit float64) domain.Severity {
	switch {
	case profit >= 0.10:
		return domain.SeverityCritical
	case profit >= 0.05:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

// marketIDs extracts the member market IDs in order.
func marketIDs(members []MarketPrice) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.MarketID
	}
	return ids
}

// minLiquidity returns the smallest member liquidity.
func minLiquidity(members []MarketPrice) float64 {
	if len(members) == 0 {
		return 0
	}
	min := members[0].Liquidity
	for _, m := range members[1:] {
		if m.Liquidity < min {
			min = m.Liquidity
		}
	}
	return min
}
