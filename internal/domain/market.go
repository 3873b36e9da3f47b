package domain

import (
	"strings"
	"time"
)

// Outcome is a single tradable outcome within a market.
type Outcome struct {
	Name    string
	TokenID string
	Price   float64 // last listed probability, 0..1
}

// MarketSnapshot is the collector-maintained view of a Polymarket market.
// It is read-only to the analysis engine.
type MarketSnapshot struct {
	ID          string
	ConditionID string
	Slug        string
	Question    string
	Outcomes    []Outcome
	Volume      float64
	Liquidity   float64
	Active      bool
	EndDate     *time.Time
	Category    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TokenIDs returns the token IDs of all outcomes, skipping empty ones.
func (m MarketSnapshot) TokenIDs() []string {
	ids := make([]string, 0, len(m.Outcomes))
	for _, o := range m.Outcomes {
		if o.TokenID != "" {
			ids = append(ids, o.TokenID)
		}
	}
	return ids
}

// YesOutcome returns the outcome explicitly named "Yes", falling back to the
// first outcome (the common Polymarket convention for binary markets). The
// second return is false when the market has no outcomes at all.
func (m MarketSnapshot) YesOutcome() (Outcome, bool) {
	for _, o := range m.Outcomes {
		if strings.EqualFold(o.Name, "Yes") {
			return o, true
		}
	}
	if len(m.Outcomes) > 0 {
		return m.Outcomes[0], true
	}
	return Outcome{}, false
}

// Binary reports whether the market has exactly two outcomes with token IDs.
func (m MarketSnapshot) Binary() bool {
	if len(m.Outcomes) != 2 {
		return false
	}
	return m.Outcomes[0].TokenID != "" && m.Outcomes[1].TokenID != ""
}
