package arbitrage

import (
	"fmt"

	"github.com/polypulse/polypulse/internal/domain"
)

// Conditional checks parent/child pairs where the child event requires the
// parent: the child's probability can never legitimately exceed the
// parent's.
type Conditional struct{}

// Type returns the edge type this rule evaluates.
func (Conditional) Type() domain.EdgeType { return domain.EdgeConditional }

// Evaluate flags a violation when the child price exceeds the parent price
// by more than PriceDelta. Members are ordered parent, child.
func (Conditional) Evaluate(g Group, cfg Config) (domain.AlertCandidate, bool) {
	if len(g.Members) != 2 {
		return domain.AlertCandidate{}, false
	}
	parent, child := g.Members[0], g.Members[1]

	edge := child.Price - parent.Price
	if edge <= cfg.PriceDelta {
		return domain.AlertCandidate{}, false
	}

	return domain.AlertCandidate{
		Type:             domain.AlertArbitrage,
		Severity:         severityForProfit(edge),
		MarketID:         parent.MarketID,
		RelatedMarketIDs: []string{parent.MarketID, child.MarketID},
		Title:            fmt.Sprintf("Conditional violation: %.1f%% edge", edge*100),
		Description: fmt.Sprintf(
			"Child market priced at %.1f%% above its parent at %.1f%%",
			child.Price*100, parent.Price*100,
		),
		Data: map[string]any{
			"type":             string(domain.EdgeConditional),
			"parent_market_id": parent.MarketID,
			"parent_price":     parent.Price,
			"child_market_id":  child.MarketID,
			"child_price":      child.Price,
			"profit_estimate":  edge,
			"strategy":         "buy_parent_sell_child",
		},
	}, true
}

// Subset checks specific/general pairs: a specific outcome ("wins by 10+")
// is contained in its general outcome ("wins") and can never price above it.
type Subset struct{}

// Type returns the edge type this rule evaluates.
func (Subset) Type() domain.EdgeType { return domain.EdgeSubset }

// Evaluate flags a violation when the specific market's price exceeds the
// general market's by more than PriceDelta. Members are ordered general,
// specific.
func (Subset) Evaluate(g Group, cfg Config) (domain.AlertCandidate, bool) {
	if len(g.Members) != 2 {
		return domain.AlertCandidate{}, false
	}
	general, specific := g.Members[0], g.Members[1]

	edge := specific.Price - general.Price
	if edge <= cfg.PriceDelta {
		return domain.AlertCandidate{}, false
	}

	return domain.AlertCandidate{
		Type:             domain.AlertArbitrage,
		Severity:         severityForProfit(edge),
		MarketID:         general.MarketID,
		RelatedMarketIDs: []string{general.MarketID, specific.MarketID},
		Title:            fmt.Sprintf("Subset mispricing: %.1f%% edge", edge*100),
		Description: fmt.Sprintf(
			"Specific outcome priced at %.1f%% above the general outcome at %.1f%%",
			specific.Price*100, general.Price*100,
		),
		Data: map[string]any{
			"type":               string(domain.EdgeSubset),
			"general_market_id":  general.MarketID,
			"general_price":      general.Price,
			"specific_market_id": specific.MarketID,
			"specific_price":     specific.Price,
			"profit_estimate":    edge,
			"strategy":           "sell_specific_buy_general",
		},
	}, true
}
