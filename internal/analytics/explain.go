package analytics

import (
	"fmt"

	"github.com/polypulse/polypulse/internal/domain"
)

// estimatedFeePct is subtracted from the optimistic arbitrage estimate to
// produce the conservative one.
const estimatedFeePct = 0.005

// Timing statuses for an opportunity.
const (
	TimingActNow = "act_now"
	TimingWatch  = "watch"
	TimingWait   = "wait"
)

// ExplainInputs are the observations an explanation is built from. Negative
// FreshnessMinutes means unknown; HasSlippage gates Slippage100.
type ExplainInputs struct {
	Quote            *Quote
	TotalDepth       float64
	FreshnessMinutes float64
	Slippage100      float64 // slippage fraction on a $100 market order
	HasSlippage      bool
	SignalCount      int
	RecentMovePct    float64 // signed price move over the last hour
	TypicalMovePct   float64 // typical 24h price range
}

// ProfitEstimate is a rough per-dollar return range. Known is false when
// the inputs cannot support any estimate.
type ProfitEstimate struct {
	Conservative float64 `json:"conservative"`
	Optimistic   float64 `json:"optimistic"`
	Known        bool    `json:"known"`
	Note         string  `json:"note"`
}

// Timing says whether acting now is sensible.
type Timing struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Explanation is the plain-language description of an opportunity, built
// from the primary signal type.
type Explanation struct {
	Primary     string         `json:"primary_signal"`
	Opportunity string         `json:"opportunity"`
	Action      string         `json:"action"`
	Profit      ProfitEstimate `json:"profit_per_dollar"`
	ProfitMath  string         `json:"profit_math"`
	Risks       []string       `json:"risks"`
	Timing      Timing         `json:"best_time_to_act"`
}

// explainPriority orders signal types from most to least actionable; the
// first active one becomes the explanation template.
var explainPriority = []domain.AlertType{
	domain.AlertArbitrage,
	domain.AlertWideSpread,
	domain.AlertVolumeSpike,
	domain.AlertMMPullback,
}

// ExplainOpportunity builds an explanation for a market's active signals.
func ExplainOpportunity(types []domain.AlertType, in ExplainInputs) Explanation {
	var primary domain.AlertType
	for _, p := range explainPriority {
		for _, t := range types {
			if t == p {
				primary = p
				break
			}
		}
		if primary != "" {
			break
		}
	}
	if primary == "" && len(types) > 0 {
		primary = types[0]
	}

	var e Explanation
	switch primary {
	case domain.AlertArbitrage:
		e = explainArbitrage(in)
	case domain.AlertWideSpread:
		e = explainSpread(in)
	case domain.AlertVolumeSpike:
		e = explainVolumeSpike(in)
	case domain.AlertMMPullback:
		e = explainPullback(in)
	default:
		e = explainGeneric()
	}
	e.Primary = string(primary)
	e.Timing = computeTiming(in)
	return e
}

func explainArbitrage(in ExplainInputs) Explanation {
	e := Explanation{
		Opportunity: "Price misalignment detected: the bid-ask gap is wider than normal, suggesting temporary mispricing.",
		Action:      "Buy the underpriced side and sell the overpriced side. If both legs fill, you lock in the difference.",
		ProfitMath:  "No bid/ask data available.",
		Risks: []string{
			"Fees and slippage can erase thin margins.",
			"One leg may fill late while prices move.",
			"Relationship tagging errors can create false signals.",
		},
	}
	if q := in.Quote; q != nil && q.BestAsk > 0 && q.Spread > 0 {
		optimistic := q.Spread / q.BestAsk
		e.Profit = ProfitEstimate{
			Conservative: max(optimistic-estimatedFeePct, 0),
			Optimistic:   optimistic,
			Known:        true,
			Note:         "Guaranteed profit if all legs fill. Conservative assumes fees.",
		}
		e.ProfitMath = fmt.Sprintf(
			"Buy at %.3f, sell at %.3f. Gap: %.3f. Conservative subtracts ~%.1f%% fees.",
			q.BestAsk, q.BestBid, q.Spread, estimatedFeePct*100,
		)
	}
	return e
}

func explainSpread(in ExplainInputs) Explanation {
	e := Explanation{
		Opportunity: "The bid-ask spread is unusually wide, suggesting reduced competition from market makers.",
		Action:      "Place a limit order near the bid price and wait for the spread to tighten. Sell when the gap closes.",
		ProfitMath:  "No bid/ask data available.",
		Risks: []string{
			"The spread may stay wide or widen further.",
			"Low liquidity can cause slippage on entry or exit.",
			"The price may move against you before the spread tightens.",
		},
	}
	if q := in.Quote; q != nil && q.BestBid > 0 {
		e.Opportunity = fmt.Sprintf(
			"The bid-ask spread is unusually wide (%.1f%%), suggesting reduced competition from market makers.",
			q.SpreadPct*100,
		)
		e.Profit = ProfitEstimate{
			Conservative: (q.Spread * 0.5) / q.BestBid,
			Optimistic:   q.Spread / q.BestBid,
			Known:        true,
			Note:         "Conservative assumes you capture half the price gap. Optimistic assumes the full gap closes.",
		}
		e.ProfitMath = fmt.Sprintf(
			"Spread gap: %.3f (bid %.3f, ask %.3f). Conservative assumes you capture half the gap.",
			q.Spread, q.BestBid, q.BestAsk,
		)
	}
	return e
}

func explainVolumeSpike(in ExplainInputs) Explanation {
	e := Explanation{
		Opportunity: "Unusual trading volume detected, which often signals informed traders acting on new information.",
		Action:      "Follow the momentum if the price is moving in a clear direction. Avoid chasing if the price has already jumped.",
		ProfitMath:  "No recent price move data available.",
		Risks: []string{
			"The news may already be priced in.",
			"Momentum can reverse quickly.",
			"Slippage is common in thin, fast-moving markets.",
		},
	}
	if in.RecentMovePct != 0 {
		move := in.RecentMovePct
		direction := "up"
		if move < 0 {
			move = -move
			direction = "down"
		}
		e.Profit = ProfitEstimate{
			Conservative: move * 0.5,
			Optimistic:   move,
			Known:        true,
			Note:         "Estimated from the last hour's price move (not guaranteed).",
		}
		e.ProfitMath = fmt.Sprintf(
			"Price moved %.1f%% %s in the last hour. Conservative assumes you capture half of this move.",
			move*100, direction,
		)
	}
	return e
}

func explainPullback(in ExplainInputs) Explanation {
	e := Explanation{
		Opportunity: "Market makers have withdrawn liquidity, which often precedes significant price movement.",
		Action:      "This is primarily a risk flag. Only act with strong conviction and use smaller position sizes than normal.",
		ProfitMath:  "No reliable move estimate available.",
		Risks: []string{
			"No guaranteed edge: this is directional risk.",
			"Thin liquidity means poor fill prices.",
			"Often precedes volatility, not certainty.",
		},
	}
	if in.TypicalMovePct != 0 {
		move := in.TypicalMovePct
		if move < 0 {
			move = -move
		}
		e.Profit = ProfitEstimate{
			Conservative: move * 0.5,
			Optimistic:   move,
			Known:        true,
			Note:         "Based on the typical 24h price range. High uncertainty.",
		}
		e.ProfitMath = fmt.Sprintf(
			"Typical 24h price range: %.1f%%. Conservative assumes you capture half of this.",
			move*100,
		)
	}
	return e
}

func explainGeneric() Explanation {
	return Explanation{
		Opportunity: "A market signal was detected but the type is unclear.",
		Action:      "Monitor the market and wait for clearer signals before acting.",
		Profit:      ProfitEstimate{Note: "Cannot estimate profit without a clear signal type."},
		ProfitMath:  "N/A",
		Risks: []string{
			"Signal type is unclear.",
			"Market conditions can change quickly.",
			"Always check data freshness before acting.",
		},
	}
}

func computeTiming(in ExplainInputs) Timing {
	var waits []string
	if in.FreshnessMinutes > 30 {
		waits = append(waits, "data is stale")
	}
	if in.HasSlippage && in.Slippage100 > 0.02 {
		waits = append(waits, "slippage is high")
	}
	if in.TotalDepth < 300 {
		waits = append(waits, "depth is too low")
	}
	if len(waits) > 0 {
		reason := waits[0]
		for _, w := range waits[1:] {
			reason += ", " + w
		}
		return Timing{Status: TimingWait, Reason: "Wait: " + reason + "."}
	}

	actNow := in.FreshnessMinutes >= 0 && in.FreshnessMinutes <= 15 &&
		(!in.HasSlippage || in.Slippage100 <= 0.01) &&
		in.TotalDepth >= 500 &&
		in.SignalCount >= 2
	if actNow {
		return Timing{Status: TimingActNow, Reason: "Act now: fresh data, strong depth, low slippage."}
	}
	return Timing{Status: TimingWatch, Reason: "Watch: conditions are acceptable but not ideal."}
}
