package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the analysis cycle.
type Metrics struct {
	cyclesTotal   prometheus.Counter
	cyclesSkipped prometheus.Counter
	cycleDuration prometheus.Histogram
	alertsEmitted *prometheus.CounterVec
}

// NewMetrics registers the cycle collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "polypulse",
			Subsystem: "analysis",
			Name:      "cycles_total",
			Help:      "Completed analysis cycles.",
		}),
		cyclesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "polypulse",
			Subsystem: "analysis",
			Name:      "cycles_skipped_total",
			Help:      "Cycles skipped because another replica held the lock.",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "polypulse",
			Subsystem: "analysis",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one analysis cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		alertsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polypulse",
			Subsystem: "analysis",
			Name:      "alerts_emitted_total",
			Help:      "Alerts recorded, by alert type.",
		}, []string{"type"}),
	}
}
