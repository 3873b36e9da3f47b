package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/polypulse/polypulse/internal/domain"
)

// Safety component caps: freshness and liquidity weigh 30 points each,
// spread and signal alignment 20 each, for a 0-100 total.
const (
	freshnessFresh   = 15 * time.Minute // full freshness points
	freshnessRecent  = 30 * time.Minute // partial freshness points
	liquidityDeep    = 2000.0           // full liquidity points, 1% depth dollars
	liquidityUsable  = 500.0            // partial liquidity points
	spreadTight      = 0.03             // full spread points
	spreadAcceptable = 0.05             // partial spread points
)

// SafetyThresholds are the pass/fail gates applied on top of the score.
// A market is "safe" only when every gate passes.
type SafetyThresholds struct {
	MaxFreshness time.Duration
	MinDepth     float64
	MaxSpread    float64
	MinSignals   int
}

// DefaultSafetyThresholds returns the standard gates.
func DefaultSafetyThresholds() SafetyThresholds {
	return SafetyThresholds{
		MaxFreshness: 30 * time.Minute,
		MinDepth:     500,
		MaxSpread:    0.05,
		MinSignals:   2,
	}
}

// SafetyInputs are the raw observations a safety score is computed from.
// Zero times mean the respective data has never been seen; a nil Quote means
// the latest book has no two-sided quote.
type SafetyInputs struct {
	LastBookTime  time.Time
	LastTradeTime time.Time
	BidDepth      float64 // dollar depth at the 1% tier
	AskDepth      float64
	Quote         *Quote
	Signals       []domain.AlertType // active alert types for the market
}

// SafetyScore is the 0-100 opportunity safety estimate with its component
// breakdown, the gates it passed, and plain-language explanations.
type SafetyScore struct {
	Total     int `json:"total"`
	Freshness int `json:"freshness"` // 0-30
	Liquidity int `json:"liquidity"` // 0-30
	Spread    int `json:"spread"`    // 0-20
	Alignment int `json:"alignment"` // 0-20

	FreshnessMinutes float64  `json:"freshness_minutes"` // -1 when no data has ever arrived
	TotalDepth       float64  `json:"total_depth"`
	SpreadPct        float64  `json:"spread_pct"`
	HasSpread        bool     `json:"has_spread"`
	Signals          []string `json:"signals"`

	PassesFreshness bool `json:"passes_freshness"`
	PassesLiquidity bool `json:"passes_liquidity"`
	PassesSpread    bool `json:"passes_spread"`
	PassesAlignment bool `json:"passes_alignment"`
	Safe            bool `json:"safe"`

	WhySafe string `json:"why_safe"`
	Risks   string `json:"risks"`
}

// ScoreSafety computes the safety score for one market as of now. Freshness
// uses the most recent of the last book and last trade; a market with
// neither scores zero freshness and reports FreshnessMinutes -1.
func ScoreSafety(in SafetyInputs, now time.Time, t SafetyThresholds) SafetyScore {
	s := SafetyScore{
		FreshnessMinutes: -1,
		TotalDepth:       in.BidDepth + in.AskDepth,
	}

	latest := in.LastBookTime
	if in.LastTradeTime.After(latest) {
		latest = in.LastTradeTime
	}
	var age time.Duration
	if !latest.IsZero() {
		age = now.Sub(latest)
		s.FreshnessMinutes = age.Minutes()
		switch {
		case age < freshnessFresh:
			s.Freshness = 30
		case age < freshnessRecent:
			s.Freshness = 20
		}
	}

	switch {
	case s.TotalDepth >= liquidityDeep:
		s.Liquidity = 30
	case s.TotalDepth >= liquidityUsable:
		s.Liquidity = 20
	}

	if in.Quote != nil {
		s.HasSpread = true
		s.SpreadPct = in.Quote.SpreadPct
		switch {
		case s.SpreadPct < spreadTight:
			s.Spread = 20
		case s.SpreadPct < spreadAcceptable:
			s.Spread = 10
		}
	}

	s.Signals = distinctSignals(in.Signals)
	switch {
	case len(s.Signals) >= 2:
		s.Alignment = 20
	case len(s.Signals) == 1:
		s.Alignment = 10
	}

	s.Total = s.Freshness + s.Liquidity + s.Spread + s.Alignment

	s.PassesFreshness = !latest.IsZero() && age <= t.MaxFreshness
	s.PassesLiquidity = s.TotalDepth >= t.MinDepth
	s.PassesSpread = s.HasSpread && s.SpreadPct <= t.MaxSpread
	s.PassesAlignment = len(s.Signals) >= t.MinSignals
	s.Safe = s.PassesFreshness && s.PassesLiquidity && s.PassesSpread && s.PassesAlignment

	s.WhySafe = explainWhySafe(s)
	s.Risks = explainRisks(s)
	return s
}

func distinctSignals(types []domain.AlertType) []string {
	seen := make(map[string]struct{}, len(types))
	out := make([]string, 0, len(types))
	for _, t := range types {
		key := string(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func explainWhySafe(s SafetyScore) string {
	var reasons []string

	switch {
	case s.FreshnessMinutes >= 0 && s.FreshnessMinutes < freshnessFresh.Minutes():
		reasons = append(reasons, "Data is very fresh (updated within 15 minutes).")
	case s.FreshnessMinutes >= 0 && s.FreshnessMinutes < freshnessRecent.Minutes():
		reasons = append(reasons, "Data is recent (updated within 30 minutes).")
	}

	switch {
	case s.TotalDepth >= liquidityDeep:
		reasons = append(reasons, fmt.Sprintf("High liquidity ($%.0f depth).", s.TotalDepth))
	case s.TotalDepth >= liquidityUsable:
		reasons = append(reasons, fmt.Sprintf("Good liquidity ($%.0f depth).", s.TotalDepth))
	}

	if s.HasSpread {
		switch {
		case s.SpreadPct < spreadTight:
			reasons = append(reasons, fmt.Sprintf("Tight spread (%.1f%%).", s.SpreadPct*100))
		case s.SpreadPct < spreadAcceptable:
			reasons = append(reasons, fmt.Sprintf("Reasonable spread (%.1f%%).", s.SpreadPct*100))
		}
	}

	switch {
	case len(s.Signals) >= 2:
		reasons = append(reasons, fmt.Sprintf("Multiple signals align (%s).", strings.Join(s.Signals, ", ")))
	case len(s.Signals) == 1:
		reasons = append(reasons, fmt.Sprintf("One confirming signal (%s).", s.Signals[0]))
	}

	if len(reasons) == 0 {
		return "This market meets basic safety criteria."
	}
	return strings.Join(reasons, " ") + fmt.Sprintf(" Safety score: %d/100.", s.Total)
}

func explainRisks(s SafetyScore) string {
	var risks []string

	if s.FreshnessMinutes < 0 || s.FreshnessMinutes > freshnessFresh.Minutes() {
		risks = append(risks, "Data may have changed since the last update.")
	}
	if s.TotalDepth < 1000 {
		risks = append(risks, "Limited liquidity could cause slippage on larger orders.")
	}
	if s.HasSpread && s.SpreadPct > spreadTight {
		risks = append(risks, "The spread reduces the profit margin.")
	}
	if len(s.Signals) < 2 {
		risks = append(risks, "Limited signal confirmation.")
	}
	risks = append(risks,
		"Market conditions can change quickly.",
		"Past patterns do not guarantee future results.",
	)
	if len(risks) > 3 {
		risks = risks[:3]
	}
	return strings.Join(risks, " ")
}
