package arbitrage

import (
	"fmt"
	"math"

	"github.com/polypulse/polypulse/internal/domain"
)

// MutuallyExclusive checks n-ary groups of outcomes that cannot all resolve
// YES: their prices must sum to 1. A sum above 1 is arbitraged by selling
// every outcome, a sum below 1 by buying every outcome; either way the edge
// is |sum - 1| minus one fee per leg.
type MutuallyExclusive struct{}

// Type returns the edge type this rule evaluates.
func (MutuallyExclusive) Type() domain.EdgeType { return domain.EdgeMutuallyExclusive }

// Evaluate returns an alert when the fee-adjusted profit meets MinProfit and
// every leg has at least MinLiquidity available.
func (MutuallyExclusive) Evaluate(g Group, cfg Config) (domain.AlertCandidate, bool) {
	if len(g.Members) < 2 {
		return domain.AlertCandidate{}, false
	}

	var sum float64
	for _, m := range g.Members {
		sum += m.Price
	}
	totalFees := cfg.FeePerTrade * float64(len(g.Members))
	profit := math.Abs(sum-1) - totalFees
	if profit < cfg.MinProfit {
		return domain.AlertCandidate{}, false
	}
	if minLiquidity(g.Members) < cfg.MinLiquidity {
		return domain.AlertCandidate{}, false
	}

	strategy := "buy_all_outcomes"
	if sum > 1 {
		strategy = "sell_all_outcomes"
	}
	ids := marketIDs(g.Members)
	prices := make(map[string]float64, len(g.Members))
	for _, m := range g.Members {
		prices[m.MarketID] = m.Price
	}

	return domain.AlertCandidate{
		Type:             domain.AlertArbitrage,
		Severity:         severityForProfit(profit),
		MarketID:         ids[0],
		RelatedMarketIDs: ids,
		Title:            fmt.Sprintf("Cross-market: %.1f%% profit (%s)", profit*100, strategy),
		Description: fmt.Sprintf(
			"%d mutually exclusive outcomes priced at a combined %.1f%%",
			len(g.Members), sum*100,
		),
		Data: map[string]any{
			"type":              string(domain.EdgeMutuallyExclusive),
			"group_id":          g.GroupID,
			"total_probability": sum,
			"profit_estimate":   profit,
			"total_fees":        totalFees,
			"strategy":          strategy,
			"prices":            prices,
			"min_liquidity":     minLiquidity(g.Members),
		},
	}, true
}
