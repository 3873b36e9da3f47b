package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/polypulse/polypulse/internal/domain"
)

// VolumeRatio compares recent traded volume to a seasonality-adjusted
// baseline. When the baseline is exactly zero but recent activity exists,
// Unbounded is set and Ratio is meaningless: a true absence of historical
// activity is itself the anomaly, never a neutral "no change".
type VolumeRatio struct {
	RecentVolume   float64
	BaselineVolume float64
	Ratio          float64
	Unbounded      bool
	RecentTrades   int
	BaselineTrades int
}

// Spiked reports whether the ratio meets the threshold. The comparison is
// boundary-inclusive: a ratio of exactly 3.0 trips the default 3.0 threshold.
func (v VolumeRatio) Spiked(threshold float64) bool {
	return v.Unbounded || v.Ratio >= threshold
}

// ComputeVolumeRatio sums volume over the lookback window ending at now and
// divides by the baseline: the mean of the per-day volume traded during the
// same hour of day over the trailing baselineDays days. Using the same hour
// controls for daily seasonality. Days with no trades count as zero days.
func ComputeVolumeRatio(trades []domain.Trade, now time.Time, lookback time.Duration, baselineDays int) VolumeRatio {
	var v VolumeRatio
	recentStart := now.Add(-lookback)
	hour := now.UTC().Hour()

	baselineStart := now.AddDate(0, 0, -baselineDays)
	perDay := make(map[int]float64, baselineDays)

	for _, t := range trades {
		ts := t.Timestamp
		if !ts.After(now) && ts.After(recentStart) {
			v.RecentVolume += math.Abs(t.Size)
			v.RecentTrades++
		}
		// Baseline: same hour of day, strictly before the recent window.
		if ts.After(baselineStart) && !ts.After(recentStart) && ts.UTC().Hour() == hour {
			day := int(recentStart.Sub(ts).Hours() / 24)
			perDay[day] += math.Abs(t.Size)
			v.BaselineTrades++
		}
	}

	var total float64
	for _, vol := range perDay {
		total += vol
	}
	v.BaselineVolume = total / float64(baselineDays)

	if v.BaselineVolume == 0 {
		v.Unbounded = v.RecentVolume > 0
		return v
	}
	v.Ratio = v.RecentVolume / v.BaselineVolume
	return v
}

// Acceleration compares trailing volume to the immediately preceding window
// of the same size.
type Acceleration struct {
	RecentVolume   float64
	PreviousVolume float64
	Change         float64 // (recent - previous) / previous
	Unbounded      bool    // previous was zero while recent is not
	Signal         string  // "accelerating", "decelerating", "stable"
}

// ComputeAcceleration measures the rate of change of volume between the
// window ending at now and the one before it. A zero previous window with
// current activity is reported as unbounded growth rather than silently
// equal to the current volume; two empty windows are a quiet market, not an
// anomaly.
func ComputeAcceleration(trades []domain.Trade, now time.Time, window time.Duration) Acceleration {
	var a Acceleration
	recentStart := now.Add(-window)
	prevStart := recentStart.Add(-window)

	for _, t := range trades {
		ts := t.Timestamp
		switch {
		case ts.After(recentStart) && !ts.After(now):
			a.RecentVolume += math.Abs(t.Size)
		case ts.After(prevStart) && !ts.After(recentStart):
			a.PreviousVolume += math.Abs(t.Size)
		}
	}

	if a.PreviousVolume == 0 {
		if a.RecentVolume > 0 {
			a.Unbounded = true
			a.Signal = "accelerating"
		} else {
			a.Signal = "stable"
		}
		return a
	}
	a.Change = (a.RecentVolume - a.PreviousVolume) / a.PreviousVolume
	switch {
	case a.Change > 0.5:
		a.Signal = "accelerating"
	case a.Change < -0.3:
		a.Signal = "decelerating"
	default:
		a.Signal = "stable"
	}
	return a
}

// VolumePriceSignal classifies the volume/price relationship in a window.
type VolumePriceSignal string

const (
	// SignalDrivingMove is high volume with a large price move.
	SignalDrivingMove VolumePriceSignal = "driving_move"
	// SignalAbsorption is high volume absorbed with little price movement.
	SignalAbsorption VolumePriceSignal = "absorption"
	// SignalThinMove is a large price move on low volume.
	SignalThinMove VolumePriceSignal = "thin_move"
	SignalNormal   VolumePriceSignal = "normal"
)

// VolumePriceCorrelation combines the volume ratio with the relative price
// move over the window.
type VolumePriceCorrelation struct {
	Volume       VolumeRatio
	PriceStart   float64
	PriceEnd     float64
	PriceMovePct float64 // |end - start| / start
	Signal       VolumePriceSignal
}

// CorrelateVolumePrice classifies a window: was the traded volume driving
// the price move, absorbing it, or was the move thin? movePct is the
// relative price change that counts as "large"; spikeRatio is the volume
// ratio that counts as "high". ok is false when the window has fewer than
// two trades or an unusable starting price.
func CorrelateVolumePrice(trades []domain.Trade, now time.Time, window time.Duration, spikeRatio, movePct float64, baselineDays int) (VolumePriceCorrelation, bool) {
	cutoff := now.Add(-window)
	var inWindow []domain.Trade
	for _, t := range trades {
		if t.Timestamp.After(cutoff) && !t.Timestamp.After(now) {
			inWindow = append(inWindow, t)
		}
	}
	if len(inWindow) < 2 {
		return VolumePriceCorrelation{}, false
	}
	sort.SliceStable(inWindow, func(i, j int) bool {
		return inWindow[i].Timestamp.Before(inWindow[j].Timestamp)
	})

	start := inWindow[0].Price
	end := inWindow[len(inWindow)-1].Price
	if start <= 0 {
		return VolumePriceCorrelation{}, false
	}

	c := VolumePriceCorrelation{
		Volume:       ComputeVolumeRatio(trades, now, window, baselineDays),
		PriceStart:   start,
		PriceEnd:     end,
		PriceMovePct: math.Abs(end-start) / start,
	}

	highVolume := c.Volume.Spiked(spikeRatio)
	bigMove := c.PriceMovePct >= movePct
	switch {
	case highVolume && bigMove:
		c.Signal = SignalDrivingMove
	case highVolume && !bigMove:
		c.Signal = SignalAbsorption
	case !highVolume && bigMove:
		c.Signal = SignalThinMove
	default:
		c.Signal = SignalNormal
	}
	return c, true
}

// TradeSizeStats summarizes trade sizes in a window and lists outliers.
type TradeSizeStats struct {
	Mean     float64
	Median   float64
	Max      float64
	Count    int
	Outliers []domain.Trade
}

// FindTradeSizeOutliers computes mean/median/max absolute trade size over
// the window and flags trades larger than whaleMultiple times the mean. ok
// is false on an empty window, which is a valid quiescent state.
func FindTradeSizeOutliers(trades []domain.Trade, now time.Time, window time.Duration, whaleMultiple float64) (TradeSizeStats, bool) {
	cutoff := now.Add(-window)
	var inWindow []domain.Trade
	sizes := make([]float64, 0, len(trades))
	for _, t := range trades {
		if t.Timestamp.After(cutoff) && !t.Timestamp.After(now) {
			inWindow = append(inWindow, t)
			sizes = append(sizes, math.Abs(t.Size))
		}
	}
	if len(sizes) == 0 {
		return TradeSizeStats{}, false
	}

	sorted := append([]float64(nil), sizes...)
	sort.Float64s(sorted)

	var sum float64
	for _, s := range sizes {
		sum += s
	}
	stats := TradeSizeStats{
		Mean:  sum / float64(len(sizes)),
		Max:   sorted[len(sorted)-1],
		Count: len(sizes),
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		stats.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		stats.Median = sorted[mid]
	}

	threshold := whaleMultiple * stats.Mean
	for i, t := range inWindow {
		if sizes[i] > threshold {
			stats.Outliers = append(stats.Outliers, t)
		}
	}
	return stats, true
}
