package arbitrage

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/polypulse/polypulse/internal/domain"
)

// Detector evaluates the relationship graph of a batch. It is stateless
// between cycles: every call re-derives all candidates from the supplied
// batch alone.
type Detector struct {
	registry *Registry
	cfg      Config
	logger   *slog.Logger
}

// NewDetector creates a detector with the four relationship rules
// registered.
func NewDetector(cfg Config, logger *slog.Logger) *Detector {
	reg := NewRegistry()
	reg.Register(MutuallyExclusive{})
	reg.Register(Conditional{})
	reg.Register(TimeSequence{})
	reg.Register(Subset{})
	return &Detector{
		registry: reg,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "arb_detector")),
	}
}

// Evaluate runs every rule over its groups plus the intra-market sum check,
// returning candidates stamped with the batch's frozen time. A malformed
// edge (a referenced market missing from the batch, or no resolvable price)
// fails only that edge's evaluation.
func (d *Detector) Evaluate(batch *domain.Batch) []domain.AlertCandidate {
	var out []domain.AlertCandidate

	for _, g := range d.buildGroups(batch) {
		rule, err := d.registry.Get(g.Type)
		if err != nil {
			d.logger.Warn("no rule for edge type", slog.String("type", string(g.Type)))
			continue
		}
		if cand, ok := rule.Evaluate(g, d.cfg); ok {
			cand.CreatedAt = batch.Now
			out = append(out, cand)
		}
	}

	out = append(out, d.detectIntraMarket(batch)...)
	return out
}

// buildGroups turns the batch's edges into resolved-price groups, one per
// pairwise edge and one per n-ary group, in deterministic order.
func (d *Detector) buildGroups(batch *domain.Batch) []Group {
	type protoGroup struct {
		typ     domain.EdgeType
		groupID string
		ids     []string
	}
	protos := make(map[string]*protoGroup)

	add := func(key string, typ domain.EdgeType, groupID string, ids ...string) {
		p := protos[key]
		if p == nil {
			p = &protoGroup{typ: typ, groupID: groupID}
			protos[key] = p
		}
		for _, id := range ids {
			found := false
			for _, have := range p.ids {
				if have == id {
					found = true
					break
				}
			}
			if !found {
				p.ids = append(p.ids, id)
			}
		}
	}

	for _, e := range batch.Edges {
		switch e.Type {
		case domain.EdgeMutuallyExclusive, domain.EdgeTimeSequence:
			gid := e.GroupID
			if gid == "" {
				gid = e.ParentMarketID + "|" + e.ChildMarketID
			}
			add(string(e.Type)+":"+gid, e.Type, gid, e.ParentMarketID, e.ChildMarketID)
		case domain.EdgeConditional, domain.EdgeSubset:
			// Pairwise: member order is parent then child.
			key := fmt.Sprintf("%s:%s|%s", e.Type, e.ParentMarketID, e.ChildMarketID)
			add(key, e.Type, "", e.ParentMarketID, e.ChildMarketID)
		default:
			d.logger.Warn("skipping edge with unknown type", slog.String("type", string(e.Type)))
		}
	}

	keys := make([]string, 0, len(protos))
	for k := range protos {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([]Group, 0, len(protos))
	for _, k := range keys {
		p := protos[k]
		if p.typ == domain.EdgeMutuallyExclusive {
			// Member order does not matter for the sum; sort for stability.
			sort.Strings(p.ids)
		}
		g := Group{Type: p.typ, GroupID: p.groupID}
		malformed := false
		for _, id := range p.ids {
			m, ok := batch.Markets[id]
			if !ok {
				d.logger.Warn("edge references market missing from batch",
					slog.String("market_id", id),
					slog.String("type", string(p.typ)),
				)
				malformed = true
				break
			}
			mp, ok := d.resolveMarket(batch, m)
			if !ok {
				d.logger.Warn("no resolvable price for market",
					slog.String("market_id", id),
					slog.String("type", string(p.typ)),
				)
				malformed = true
				break
			}
			g.Members = append(g.Members, mp)
		}
		if malformed {
			continue
		}
		groups = append(groups, g)
	}
	return groups
}

// resolveMarket resolves a market's YES price from its YES token's latest
// book, falling back to the listed price.
func (d *Detector) resolveMarket(batch *domain.Batch, m domain.MarketSnapshot) (MarketPrice, bool) {
	var book domain.OrderBookSnapshot
	haveBook := false
	if yes, ok := m.YesOutcome(); ok && yes.TokenID != "" {
		book, haveBook = batch.Books[yes.TokenID]
	}
	return ResolvePrice(m, book, haveBook, batch.Now, d.cfg.Freshness)
}

// detectIntraMarket checks every binary market for a buy-both-sides
// opportunity: when the two outcomes' buy prices sum below 1, buying both
// locks in the difference at settlement. Prices come from each token's
// fresh best ask, else the listed outcome price.
func (d *Detector) detectIntraMarket(batch *domain.Batch) []domain.AlertCandidate {
	ids := make([]string, 0, len(batch.Markets))
	for id := range batch.Markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []domain.AlertCandidate
	for _, id := range ids {
		m := batch.Markets[id]
		if !m.Active || !m.Binary() {
			continue
		}

		total := 0.0
		prices := make([]float64, 2)
		sources := make([]string, 2)
		usable := true
		for i, o := range m.Outcomes {
			price, source, ok := d.buyPrice(batch, o)
			if !ok {
				usable = false
				break
			}
			prices[i] = price
			sources[i] = source
			total += price
		}
		if !usable || total >= 1 {
			continue
		}

		profit := 1 - total
		if profit < d.cfg.MinProfit {
			continue
		}

		out = append(out, domain.AlertCandidate{
			Type:             domain.AlertArbitrage,
			Severity:         severityForProfit(profit),
			MarketID:         m.ID,
			RelatedMarketIDs: []string{m.ID},
			Title:            fmt.Sprintf("Arbitrage: %.1f%% profit", profit*100),
			Description: fmt.Sprintf(
				"Buy both %s ($%.3f) and %s ($%.3f) for $%.3f guaranteed profit per share",
				m.Outcomes[0].Name, prices[0], m.Outcomes[1].Name, prices[1], profit,
			),
			Data: map[string]any{
				"type":            "intra_market",
				"outcome1_name":   m.Outcomes[0].Name,
				"outcome1_price":  prices[0],
				"outcome1_source": sources[0],
				"outcome2_name":   m.Outcomes[1].Name,
				"outcome2_price":  prices[1],
				"outcome2_source": sources[1],
				"total":           total,
				"profit_estimate": profit,
				"strategy":        "buy_both_sides",
			},
			CreatedAt: batch.Now,
		})
	}
	return out
}

// buyPrice is the cost of buying one outcome: the fresh best ask when
// available, else the listed price.
func (d *Detector) buyPrice(batch *domain.Batch, o domain.Outcome) (float64, string, bool) {
	if book, ok := batch.Books[o.TokenID]; ok && !book.Crossed() &&
		batch.Now.Sub(book.Timestamp) <= d.cfg.Freshness {
		if ask, ok := book.BestAsk(); ok {
			return ask, string(SourceOrderbook), true
		}
	}
	if o.Price > 0 {
		return o.Price, string(SourceMarket), true
	}
	return 0, "", false
}
