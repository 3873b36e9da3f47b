package arbitrage

import (
	"fmt"
	"sort"

	"github.com/polypulse/polypulse/internal/domain"
)

// TimeSequence checks chains of the same outcome at increasing deadlines:
// "by March" implies "by June", so the earlier deadline can never price
// above a later one.
type TimeSequence struct{}

// Type returns the edge type this rule evaluates.
func (TimeSequence) Type() domain.EdgeType { return domain.EdgeTimeSequence }

// Inversion is one violating adjacent pair in a deadline-ordered chain.
type Inversion struct {
	EarlierMarketID string
	EarlierPrice    float64
	LaterMarketID   string
	LaterPrice      float64
	Edge            float64 // earlier - later
}

// timeInversions sorts members by deadline ascending and walks adjacent
// pairs, collecting each pair where the earlier deadline's price exceeds the
// later one's by more than delta. Members without a deadline cannot be
// ordered and are dropped from the chain.
func timeInversions(members []MarketPrice, delta float64) []Inversion {
	dated := make([]MarketPrice, 0, len(members))
	for _, m := range members {
		if m.EndDate != nil {
			dated = append(dated, m)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		if dated[i].EndDate.Equal(*dated[j].EndDate) {
			return dated[i].MarketID < dated[j].MarketID
		}
		return dated[i].EndDate.Before(*dated[j].EndDate)
	})

	var out []Inversion
	for i := 0; i+1 < len(dated); i++ {
		earlier, later := dated[i], dated[i+1]
		edge := earlier.Price - later.Price
		if edge > delta {
			out = append(out, Inversion{
				EarlierMarketID: earlier.MarketID,
				EarlierPrice:    earlier.Price,
				LaterMarketID:   later.MarketID,
				LaterPrice:      later.Price,
				Edge:            edge,
			})
		}
	}
	return out
}

// Evaluate flags the group when any adjacent deadline pair is inverted. The
// candidate carries every violating pair; the severity follows the largest
// edge.
func (TimeSequence) Evaluate(g Group, cfg Config) (domain.AlertCandidate, bool) {
	inversions := timeInversions(g.Members, cfg.PriceDelta)
	if len(inversions) == 0 {
		return domain.AlertCandidate{}, false
	}

	maxEdge := inversions[0].Edge
	pairs := make([]map[string]any, 0, len(inversions))
	for _, inv := range inversions {
		if inv.Edge > maxEdge {
			maxEdge = inv.Edge
		}
		pairs = append(pairs, map[string]any{
			"earlier_market_id": inv.EarlierMarketID,
			"earlier_price":     inv.EarlierPrice,
			"later_market_id":   inv.LaterMarketID,
			"later_price":       inv.LaterPrice,
			"edge":              inv.Edge,
		})
	}

	ids := marketIDs(g.Members)
	return domain.AlertCandidate{
		Type:             domain.AlertArbitrage,
		Severity:         severityForProfit(maxEdge),
		MarketID:         inversions[0].EarlierMarketID,
		RelatedMarketIDs: ids,
		Title:            fmt.Sprintf("Time inversion: %.1f%% edge", maxEdge*100),
		Description: fmt.Sprintf(
			"%d deadline pair(s) priced out of order; earlier deadlines cannot exceed later ones",
			len(inversions),
		),
		Data: map[string]any{
			"type":            string(domain.EdgeTimeSequence),
			"group_id":        g.GroupID,
			"inversions":      pairs,
			"profit_estimate": maxEdge,
			"strategy":        "sell_earlier_buy_later",
		},
	}, true
}
