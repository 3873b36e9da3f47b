package domain

import (
	"sort"
	"strings"
	"time"
)

// AlertType identifies which detector produced an alert.
type AlertType string

const (
	AlertVolumeSpike    AlertType = "volume_spike"
	AlertWideSpread     AlertType = "wide_spread"
	AlertMMPullback     AlertType = "mm_pullback"
	AlertArbitrage      AlertType = "arbitrage"
	AlertCrossedBook    AlertType = "crossed_book"
	AlertWhaleActivity  AlertType = "whale_activity"
)

// Severity ranks alerts for presentation and notification routing.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertCandidate is the engine's only output: a fully described alert
// without persistence identity. Candidates carry no random IDs and no clock
// reads so that identical input batches produce byte-identical candidate
// sets; the sink assigns IDs when recording.
type AlertCandidate struct {
	Type             AlertType
	Severity         Severity
	MarketID         string
	RelatedMarketIDs []string
	Title            string
	Description      string
	Data             map[string]any
	CreatedAt        time.Time // the cycle's frozen "now"
}

// Key is the dedup identity used by the sink: while an active alert with the
// same key exists, re-emission is suppressed.
func (c AlertCandidate) Key() string {
	related := append([]string(nil), c.RelatedMarketIDs...)
	sort.Strings(related)
	return string(c.Type) + "|" + c.MarketID + "|" + strings.Join(related, ",")
}

// Alert is a persisted alert candidate. Alerts are never deleted by the
// engine; the only post-creation transition is active -> dismissed.
type Alert struct {
	ID               string
	Type             AlertType
	Severity         Severity
	MarketID         string
	RelatedMarketIDs []string
	Title            string
	Description      string
	Data             map[string]any
	Active           bool
	CreatedAt        time.Time
	DismissedAt      *time.Time
}
