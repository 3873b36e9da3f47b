package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polypulse/polypulse/internal/arbitrage"
	"github.com/polypulse/polypulse/internal/domain"
	"github.com/polypulse/polypulse/internal/engine"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// in-memory fakes
// ---------------------------------------------------------------------------

type memMarkets struct {
	markets []domain.MarketSnapshot
}

func (m *memMarkets) Upsert(ctx context.Context, snap domain.MarketSnapshot) error {
	return m.UpsertBatch(ctx, []domain.MarketSnapshot{snap})
}

func (m *memMarkets) UpsertBatch(_ context.Context, snaps []domain.MarketSnapshot) error {
	for _, snap := range snaps {
		replaced := false
		for i := range m.markets {
			if m.markets[i].ID == snap.ID {
				m.markets[i] = snap
				replaced = true
				break
			}
		}
		if !replaced {
			m.markets = append(m.markets, snap)
		}
	}
	return nil
}

func (m *memMarkets) GetByID(_ context.Context, id string) (domain.MarketSnapshot, error) {
	for _, snap := range m.markets {
		if snap.ID == id {
			return snap, nil
		}
	}
	return domain.MarketSnapshot{}, domain.ErrNotFound
}

func (m *memMarkets) ListActive(_ context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	var out []domain.MarketSnapshot
	for _, snap := range m.markets {
		if snap.Active {
			out = append(out, snap)
		}
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memMarkets) Count(context.Context) (int64, error) {
	return int64(len(m.markets)), nil
}

type memBooks struct {
	latest  map[string]domain.OrderBookSnapshot
	history map[string][]domain.OrderBookSnapshot
}

func newMemBooks() *memBooks {
	return &memBooks{
		latest:  make(map[string]domain.OrderBookSnapshot),
		history: make(map[string][]domain.OrderBookSnapshot),
	}
}

func (b *memBooks) Insert(_ context.Context, snap domain.OrderBookSnapshot) error {
	b.latest[snap.TokenID] = snap
	b.history[snap.TokenID] = append(b.history[snap.TokenID], snap)
	return nil
}

func (b *memBooks) Latest(_ context.Context, tokenID string) (domain.OrderBookSnapshot, error) {
	snap, ok := b.latest[tokenID]
	if !ok {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (b *memBooks) LatestBatch(_ context.Context, tokenIDs []string) (map[string]domain.OrderBookSnapshot, error) {
	out := make(map[string]domain.OrderBookSnapshot)
	for _, id := range tokenIDs {
		if snap, ok := b.latest[id]; ok {
			out[id] = snap
		}
	}
	return out, nil
}

func (b *memBooks) History(_ context.Context, tokenID string, since time.Time) ([]domain.OrderBookSnapshot, error) {
	var out []domain.OrderBookSnapshot
	for _, snap := range b.history[tokenID] {
		if snap.Timestamp.After(since) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (b *memBooks) ListBefore(_ context.Context, cutoff time.Time) ([]domain.OrderBookSnapshot, error) {
	var out []domain.OrderBookSnapshot
	for _, snaps := range b.history {
		for _, snap := range snaps {
			if snap.Timestamp.Before(cutoff) {
				out = append(out, snap)
			}
		}
	}
	return out, nil
}

func (b *memBooks) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	for id, snaps := range b.history {
		var kept []domain.OrderBookSnapshot
		for _, snap := range snaps {
			if snap.Timestamp.Before(cutoff) {
				deleted++
			} else {
				kept = append(kept, snap)
			}
		}
		b.history[id] = kept
	}
	return deleted, nil
}

type memTrades struct {
	trades []domain.Trade
}

func (t *memTrades) InsertBatch(_ context.Context, trades []domain.Trade) error {
	for _, tr := range trades {
		dup := false
		for _, existing := range t.trades {
			if existing.ID == tr.ID {
				dup = true
				break
			}
		}
		if !dup {
			t.trades = append(t.trades, tr)
		}
	}
	return nil
}

func (t *memTrades) ListByToken(_ context.Context, tokenID string, since, until time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, tr := range t.trades {
		if tr.TokenID == tokenID && tr.Timestamp.After(since) && !tr.Timestamp.After(until) {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (t *memTrades) ListByTokens(ctx context.Context, tokenIDs []string, since, until time.Time) (map[string][]domain.Trade, error) {
	out := make(map[string][]domain.Trade)
	for _, id := range tokenIDs {
		trades, _ := t.ListByToken(ctx, id, since, until)
		if len(trades) > 0 {
			out[id] = trades
		}
	}
	return out, nil
}

func (t *memTrades) LastTimestamp(context.Context) (time.Time, error) {
	var last time.Time
	for _, tr := range t.trades {
		if tr.Timestamp.After(last) {
			last = tr.Timestamp
		}
	}
	return last, nil
}

func (t *memTrades) ListBefore(_ context.Context, cutoff time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, tr := range t.trades {
		if tr.Timestamp.Before(cutoff) {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (t *memTrades) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []domain.Trade
	var deleted int64
	for _, tr := range t.trades {
		if tr.Timestamp.Before(cutoff) {
			deleted++
		} else {
			kept = append(kept, tr)
		}
	}
	t.trades = kept
	return deleted, nil
}

type memEdges struct {
	edges []domain.RelationshipEdge
}

func (e *memEdges) Upsert(_ context.Context, edge domain.RelationshipEdge) error {
	e.edges = append(e.edges, edge)
	return nil
}

func (e *memEdges) ListByType(_ context.Context, t domain.EdgeType) ([]domain.RelationshipEdge, error) {
	var out []domain.RelationshipEdge
	for _, edge := range e.edges {
		if edge.Type == t {
			out = append(out, edge)
		}
	}
	return out, nil
}

func (e *memEdges) ListAll(context.Context) ([]domain.RelationshipEdge, error) {
	return e.edges, nil
}

// memSink mimics the store's dedup contract: one active alert per key.
type memSink struct {
	mu     sync.Mutex
	nextID int
	alerts []domain.Alert
}

func (s *memSink) SaveCandidates(_ context.Context, candidates []domain.AlertCandidate) ([]domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]bool)
	for _, a := range s.alerts {
		if a.Active {
			cand := domain.AlertCandidate{Type: a.Type, MarketID: a.MarketID, RelatedMarketIDs: a.RelatedMarketIDs}
			active[cand.Key()] = true
		}
	}

	var recorded []domain.Alert
	for _, c := range candidates {
		if active[c.Key()] {
			continue
		}
		s.nextID++
		alert := domain.Alert{
			ID:               fmt.Sprintf("alert-%d", s.nextID),
			Type:             c.Type,
			Severity:         c.Severity,
			MarketID:         c.MarketID,
			RelatedMarketIDs: c.RelatedMarketIDs,
			Title:            c.Title,
			Description:      c.Description,
			Data:             c.Data,
			Active:           true,
			CreatedAt:        c.CreatedAt,
		}
		s.alerts = append(s.alerts, alert)
		recorded = append(recorded, alert)
		active[c.Key()] = true
	}
	return recorded, nil
}

func (s *memSink) List(_ context.Context, activeOnly bool, _ []domain.AlertType, _ domain.ListOpts) ([]domain.Alert, error) {
	var out []domain.Alert
	for _, a := range s.alerts {
		if !activeOnly || a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memSink) GetByID(_ context.Context, id string) (domain.Alert, error) {
	for _, a := range s.alerts {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Alert{}, domain.ErrNotFound
}

func (s *memSink) Dismiss(_ context.Context, id string) error {
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Active = false
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memSink) ListBefore(_ context.Context, cutoff time.Time) ([]domain.Alert, error) {
	var out []domain.Alert
	for _, a := range s.alerts {
		if !a.Active && a.CreatedAt.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memSink) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []domain.Alert
	var deleted int64
	for _, a := range s.alerts {
		if !a.Active && a.CreatedAt.Before(cutoff) {
			deleted++
		} else {
			kept = append(kept, a)
		}
	}
	s.alerts = kept
	return deleted, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(_ context.Context, severity domain.Severity, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, string(severity)+":"+title)
	return nil
}

// ---------------------------------------------------------------------------
// market collector
// ---------------------------------------------------------------------------

type pagedFetcher struct {
	markets []domain.MarketSnapshot
	calls   int
}

func (f *pagedFetcher) FetchMarkets(_ context.Context, limit, offset int) ([]domain.MarketSnapshot, error) {
	f.calls++
	if offset >= len(f.markets) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.markets) {
		end = len(f.markets)
	}
	return f.markets[offset:end], nil
}

func TestMarketCollectorPaginates(t *testing.T) {
	var markets []domain.MarketSnapshot
	for i := 0; i < 250; i++ {
		markets = append(markets, domain.MarketSnapshot{
			ID:     fmt.Sprintf("mkt-%d", i),
			Active: true,
		})
	}
	fetcher := &pagedFetcher{markets: markets}
	store := &memMarkets{}

	c := NewMarketCollector(fetcher, store, nil, 0, discardLogger())
	require.NoError(t, c.Run(context.Background()))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(250), count)
	// 100 + 100 + 50; the short page stops the loop.
	assert.Equal(t, 3, fetcher.calls)
}

func TestMarketCollectorHonorsMaxMarkets(t *testing.T) {
	var markets []domain.MarketSnapshot
	for i := 0; i < 300; i++ {
		markets = append(markets, domain.MarketSnapshot{
			ID:     fmt.Sprintf("mkt-%d", i),
			Active: true,
		})
	}
	fetcher := &pagedFetcher{markets: markets}
	store := &memMarkets{}

	c := NewMarketCollector(fetcher, store, nil, 200, discardLogger())
	require.NoError(t, c.Run(context.Background()))

	count, _ := store.Count(context.Background())
	assert.Equal(t, int64(200), count)
}

// ---------------------------------------------------------------------------
// analysis cycle
// ---------------------------------------------------------------------------

func testAnalysisEngine() *engine.Engine {
	cfg := engine.Config{
		SpikeRatioThreshold: 3.0,
		FlashSpikeRatio:     5.0,
		MinBaselineTrades:   1,
		SpreadAlertPct:      0.05,
		DepthDropPct:        0.5,
		SpreadWidenRatio:    1.5,
		WhaleMultiple:       5.0,
		PriceMovePct:        0.05,
		BaselineLookback:    7 * 24 * time.Hour,
		RecentWindow:        time.Hour,
		FlashWindow:         15 * time.Minute,
		MMWindow:            30 * time.Minute,
		BookFreshness:       15 * time.Minute,
		Arbitrage: arbitrage.Config{
			MinProfit:    0.02,
			FeePerTrade:  0.01,
			MinLiquidity: 1000,
			PriceDelta:   0.02,
			Freshness:    15 * time.Minute,
		},
	}
	return engine.New(cfg, discardLogger())
}

func crossedTestMarket() (*memMarkets, *memBooks) {
	markets := &memMarkets{markets: []domain.MarketSnapshot{{
		ID:       "mkt-1",
		Question: "crossed?",
		Active:   true,
		Outcomes: []domain.Outcome{
			{Name: "Yes", TokenID: "tok-yes", Price: 0.5},
			{Name: "No", TokenID: "tok-no", Price: 0.5},
		},
	}}}

	books := newMemBooks()
	books.Insert(context.Background(), domain.OrderBookSnapshot{
		TokenID:   "tok-yes",
		MarketID:  "mkt-1",
		Timestamp: time.Now().UTC(),
		Bids:      []domain.PriceLevel{{Price: 0.55, Size: 100}},
		Asks:      []domain.PriceLevel{{Price: 0.52, Size: 100}},
	})
	return markets, books
}

func TestAnalyzerRunOnceRecordsAndNotifies(t *testing.T) {
	markets, books := crossedTestMarket()
	sink := &memSink{}
	notifier := &recordingNotifier{}

	a := NewAnalyzer(
		testAnalysisEngine(),
		markets, books, &memTrades{}, &memEdges{}, sink,
		AnalyzerOpts{Notifier: notifier},
		discardLogger(),
	)

	require.NoError(t, a.RunOnce(context.Background()))

	alerts, err := sink.List(context.Background(), true, nil, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertCrossedBook, alerts[0].Type)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.calls, 1)
}

func TestAnalyzerDedupAcrossCycles(t *testing.T) {
	markets, books := crossedTestMarket()
	sink := &memSink{}

	a := NewAnalyzer(
		testAnalysisEngine(),
		markets, books, &memTrades{}, &memEdges{}, sink,
		AnalyzerOpts{},
		discardLogger(),
	)

	require.NoError(t, a.RunOnce(context.Background()))
	require.NoError(t, a.RunOnce(context.Background()))

	alerts, _ := sink.List(context.Background(), true, nil, domain.ListOpts{})
	// The second cycle re-detects the same condition but the active alert
	// suppresses re-emission.
	assert.Len(t, alerts, 1)
}

func TestAnalyzerDismissReleasesKey(t *testing.T) {
	markets, books := crossedTestMarket()
	sink := &memSink{}

	a := NewAnalyzer(
		testAnalysisEngine(),
		markets, books, &memTrades{}, &memEdges{}, sink,
		AnalyzerOpts{},
		discardLogger(),
	)

	require.NoError(t, a.RunOnce(context.Background()))
	alerts, _ := sink.List(context.Background(), true, nil, domain.ListOpts{})
	require.Len(t, alerts, 1)

	require.NoError(t, sink.Dismiss(context.Background(), alerts[0].ID))
	require.NoError(t, a.RunOnce(context.Background()))

	active, _ := sink.List(context.Background(), true, nil, domain.ListOpts{})
	assert.Len(t, active, 1, "dismissal releases the dedup key for re-detection")
}

// ---------------------------------------------------------------------------
// retention
// ---------------------------------------------------------------------------

type recordingCold struct {
	tradePaths []string
	bookPaths  []string
	alertPaths []string
}

func (c *recordingCold) ArchiveTrades(_ context.Context, trades []domain.Trade, before time.Time) (string, error) {
	path := "archive/trades/" + before.UTC().Format("2006-01") + ".jsonl"
	c.tradePaths = append(c.tradePaths, path)
	return path, nil
}

func (c *recordingCold) ArchiveOrderbooks(_ context.Context, snaps []domain.OrderBookSnapshot, before time.Time) (string, error) {
	path := "archive/orderbooks/" + before.UTC().Format("2006-01") + ".jsonl"
	c.bookPaths = append(c.bookPaths, path)
	return path, nil
}

func (c *recordingCold) ArchiveAlerts(_ context.Context, alerts []domain.Alert, before time.Time) (string, error) {
	path := "archive/alerts/" + before.UTC().Format("2006-01") + ".jsonl"
	c.alertPaths = append(c.alertPaths, path)
	return path, nil
}

func TestRetentionArchivesThenDeletes(t *testing.T) {
	old := time.Now().UTC().Add(-60 * 24 * time.Hour)
	fresh := time.Now().UTC().Add(-time.Hour)

	trades := &memTrades{trades: []domain.Trade{
		{ID: "t-old", TokenID: "tok", Timestamp: old},
		{ID: "t-new", TokenID: "tok", Timestamp: fresh},
	}}
	books := newMemBooks()
	books.Insert(context.Background(), domain.OrderBookSnapshot{TokenID: "tok", Timestamp: old})
	books.Insert(context.Background(), domain.OrderBookSnapshot{TokenID: "tok", Timestamp: fresh})
	sink := &memSink{alerts: []domain.Alert{
		{ID: "a-old", Active: false, CreatedAt: old},
		{ID: "a-live", Active: true, CreatedAt: old},
	}}
	cold := &recordingCold{}

	r := NewRetention(trades, books, sink, cold, 30, discardLogger())
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, cold.tradePaths, 1)
	require.Len(t, cold.bookPaths, 1)
	require.Len(t, cold.alertPaths, 1)

	// The active alert survives regardless of age.
	kept, _ := sink.List(context.Background(), false, nil, domain.ListOpts{})
	require.Len(t, kept, 1)
	assert.Equal(t, "a-live", kept[0].ID)

	remaining, _ := trades.ListBefore(context.Background(), time.Now().UTC())
	require.Len(t, remaining, 1)
	assert.Equal(t, "t-new", remaining[0].ID)
}

func TestRetentionSkipsArchiveWhenEmpty(t *testing.T) {
	trades := &memTrades{}
	books := newMemBooks()
	cold := &recordingCold{}

	r := NewRetention(trades, books, &memSink{}, cold, 30, discardLogger())
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, cold.tradePaths)
	assert.Empty(t, cold.bookPaths)
	assert.Empty(t, cold.alertPaths)
}

// ---------------------------------------------------------------------------
// cron
// ---------------------------------------------------------------------------

func TestNextCronTime(t *testing.T) {
	after := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)

	next, err := nextCronTime("10 0 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 16, 0, 10, 0, 0, time.UTC), next)

	next, err = nextCronTime("0 3 1 * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC), next)

	next, err = nextCronTime("*/bad * * * *", after)
	assert.Error(t, err)
	assert.True(t, next.IsZero())
}

func TestNextCronTimeCommaList(t *testing.T) {
	after := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)

	next, err := nextCronTime("0 6,18 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC), next)
}

func TestParseCronRejectsWrongFieldCount(t *testing.T) {
	_, err := parseCron("0 3 *")
	assert.Error(t, err)
}
