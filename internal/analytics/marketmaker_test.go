package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polypulse/polypulse/internal/domain"
)

var mmNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// quotedBook builds a snapshot with single-level sides, scaled so the spread
// stays fixed while depth varies with sizeScale.
func quotedBook(ts time.Time, bid, ask, sizeScale float64) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		TokenID:   "tok-1",
		MarketID:  "mkt-1",
		Timestamp: ts,
		Bids:      []domain.PriceLevel{{Price: bid, Size: 1000 * sizeScale}},
		Asks:      []domain.PriceLevel{{Price: ask, Size: 1000 * sizeScale}},
	}
}

func TestScorePresence_SteadySymmetricQuoting(t *testing.T) {
	var history []domain.OrderBookSnapshot
	for i := 0; i < 10; i++ {
		history = append(history, quotedBook(mmNow.Add(-time.Duration(i)*time.Minute), 0.49, 0.51, 1))
	}

	p, ok := ScorePresence(history, mmNow, 30*time.Minute)
	require.True(t, ok)
	assert.InDelta(t, 100, p.Score, 1e-9, "constant spread and equal sizes is a perfect score")
	assert.Equal(t, PresenceStrong, p.Bucket)
	assert.InDelta(t, 1.0, p.SpreadConsistency, 1e-9)
	assert.InDelta(t, 1.0, p.SizeSymmetry, 1e-9)
	assert.Equal(t, 10, p.SnapshotCount)
}

func TestScorePresence_ErraticQuoting(t *testing.T) {
	// Wildly varying spreads and one-sided sizes.
	history := []domain.OrderBookSnapshot{
		quotedBook(mmNow.Add(-1*time.Minute), 0.49, 0.51, 1),
		quotedBook(mmNow.Add(-2*time.Minute), 0.30, 0.70, 1),
		quotedBook(mmNow.Add(-3*time.Minute), 0.45, 0.55, 1),
	}
	for i := range history {
		history[i].Asks[0].Size = history[i].Bids[0].Size * 10
	}

	p, ok := ScorePresence(history, mmNow, 30*time.Minute)
	require.True(t, ok)
	assert.Equal(t, PresenceLow, p.Bucket)
	assert.Zero(t, p.SizeSymmetry)
}

func TestScorePresence_EmptyWindow(t *testing.T) {
	history := []domain.OrderBookSnapshot{
		quotedBook(mmNow.Add(-2*time.Hour), 0.49, 0.51, 1),
	}
	_, ok := ScorePresence(history, mmNow, 30*time.Minute)
	assert.False(t, ok)
}

// pullbackHistory builds 24h of hourly snapshots at full depth plus recent
// snapshots at recentScale of it.
func pullbackHistory(recentScale float64) []domain.OrderBookSnapshot {
	var history []domain.OrderBookSnapshot
	for i := 2; i <= 24; i++ {
		history = append(history, quotedBook(mmNow.Add(-time.Duration(i)*time.Hour), 0.49, 0.51, 1))
	}
	for i := 5; i <= 55; i += 10 {
		history = append(history, quotedBook(mmNow.Add(-time.Duration(i)*time.Minute), 0.49, 0.51, recentScale))
	}
	return history
}

func TestDetectPullback_DepthDrop(t *testing.T) {
	// Depth fell to 40% of the norm: a 60% drop, over the 50% limit.
	p, ok := DetectPullback(pullbackHistory(0.4), mmNow, time.Hour, 24*time.Hour, 1.5, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 0.6, p.DepthDropPct, 1e-9)
	assert.True(t, p.DepthDropped)
	assert.False(t, p.SpreadWidened, "the spread never moved")
	assert.True(t, p.Flagged)
}

func TestDetectPullback_ModestDropDoesNotFlag(t *testing.T) {
	// Depth fell to 60% of the norm: a 40% drop, under the 50% limit.
	p, ok := DetectPullback(pullbackHistory(0.6), mmNow, time.Hour, 24*time.Hour, 1.5, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 0.4, p.DepthDropPct, 1e-9)
	assert.False(t, p.DepthDropped)
	assert.False(t, p.Flagged)
}

func TestDetectPullback_SpreadWideningAloneFlags(t *testing.T) {
	var history []domain.OrderBookSnapshot
	for i := 2; i <= 24; i++ {
		history = append(history, quotedBook(mmNow.Add(-time.Duration(i)*time.Hour), 0.49, 0.51, 1))
	}
	// Same depth, twice the spread.
	for i := 5; i <= 55; i += 10 {
		history = append(history, quotedBook(mmNow.Add(-time.Duration(i)*time.Minute), 0.48, 0.52, 1))
	}

	p, ok := DetectPullback(history, mmNow, time.Hour, 24*time.Hour, 1.5, 0.5)
	require.True(t, ok)
	assert.True(t, p.SpreadWidened)
	assert.False(t, p.DepthDropped)
	assert.True(t, p.Flagged, "either condition alone suffices")
}

func TestDetectPullback_CrossedSnapshotsExcluded(t *testing.T) {
	// A real pullback (depth at 10% of the norm), plus one crossed snapshot
	// in the recent window carrying a huge junk size. If the crossed book's
	// depth leaked into the average it would mask the drop entirely.
	history := pullbackHistory(0.1)
	crossed := quotedBook(mmNow.Add(-20*time.Minute), 0.60, 0.40, 40)
	history = append(history, crossed)

	p, ok := DetectPullback(history, mmNow, time.Hour, 24*time.Hour, 1.5, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 0.9, p.DepthDropPct, 1e-9)
	assert.True(t, p.DepthDropped)
	assert.True(t, p.Flagged)
}

func TestDetectPullback_RequiresBothPeriods(t *testing.T) {
	// Only recent snapshots: no historical norm to compare against.
	var history []domain.OrderBookSnapshot
	for i := 5; i <= 55; i += 10 {
		history = append(history, quotedBook(mmNow.Add(-time.Duration(i)*time.Minute), 0.49, 0.51, 1))
	}
	_, ok := DetectPullback(history, mmNow, time.Hour, 24*time.Hour, 1.5, 0.5)
	assert.False(t, ok)
}

func TestBestHoursOverall(t *testing.T) {
	histories := map[string][]domain.OrderBookSnapshot{}
	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	// Hour 9: tight and deep. Hour 21: wide and thin.
	for d := 0; d < 3; d++ {
		ts := day.AddDate(0, 0, -d)
		histories["tok-a"] = append(histories["tok-a"],
			quotedBook(ts.Add(9*time.Hour), 0.495, 0.505, 10),
			quotedBook(ts.Add(21*time.Hour), 0.40, 0.60, 0.1),
		)
	}

	ranked := BestHoursOverall(histories, day.Add(23*time.Hour), 7*24*time.Hour)
	require.Len(t, ranked, 2)
	assert.Equal(t, 9, ranked[0].Hour)
	assert.Equal(t, 21, ranked[1].Hour)
	assert.Greater(t, ranked[0].QualityScore, ranked[1].QualityScore)
	assert.Equal(t, 1, ranked[0].MarketCount)
	assert.Equal(t, 3, ranked[0].SnapshotCount)
}
