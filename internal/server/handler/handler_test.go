package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polypulse/polypulse/internal/analytics"
	"github.com/polypulse/polypulse/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarkets struct {
	markets map[string]domain.MarketSnapshot
}

func (f *fakeMarkets) GetByID(_ context.Context, id string) (domain.MarketSnapshot, error) {
	m, ok := f.markets[id]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarkets) ListActive(_ context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	var out []domain.MarketSnapshot
	for _, m := range f.markets {
		if m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMarkets) Count(context.Context) (int64, error) {
	return int64(len(f.markets)), nil
}

type fakeBooks struct {
	books     map[string]domain.OrderBookSnapshot
	histories map[string][]domain.OrderBookSnapshot
}

func (f *fakeBooks) Latest(_ context.Context, tokenID string) (domain.OrderBookSnapshot, error) {
	b, ok := f.books[tokenID]
	if !ok {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeBooks) History(_ context.Context, tokenID string, since time.Time) ([]domain.OrderBookSnapshot, error) {
	if hist, ok := f.histories[tokenID]; ok {
		return hist, nil
	}
	b, ok := f.books[tokenID]
	if !ok {
		return nil, nil
	}
	return []domain.OrderBookSnapshot{b}, nil
}

type fakeAlerts struct {
	alerts map[string]*domain.Alert
}

func (f *fakeAlerts) SaveCandidates(context.Context, []domain.AlertCandidate) ([]domain.Alert, error) {
	return nil, nil
}

func (f *fakeAlerts) List(_ context.Context, activeOnly bool, types []domain.AlertType, _ domain.ListOpts) ([]domain.Alert, error) {
	var out []domain.Alert
	for _, a := range f.alerts {
		if activeOnly && !a.Active {
			continue
		}
		if len(types) > 0 {
			match := false
			for _, t := range types {
				if a.Type == t {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeAlerts) GetByID(_ context.Context, id string) (domain.Alert, error) {
	a, ok := f.alerts[id]
	if !ok {
		return domain.Alert{}, domain.ErrNotFound
	}
	return *a, nil
}

func (f *fakeAlerts) Dismiss(_ context.Context, id string) error {
	a, ok := f.alerts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Active = false
	return nil
}

func (f *fakeAlerts) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeEdges struct {
	edges []domain.RelationshipEdge
}

func (f *fakeEdges) Upsert(_ context.Context, edge domain.RelationshipEdge) error {
	f.edges = append(f.edges, edge)
	return nil
}

func (f *fakeEdges) ListByType(_ context.Context, t domain.EdgeType) ([]domain.RelationshipEdge, error) {
	var out []domain.RelationshipEdge
	for _, e := range f.edges {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEdges) ListAll(context.Context) ([]domain.RelationshipEdge, error) {
	return f.edges, nil
}

func testBook(tokenID string) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		TokenID:   tokenID,
		MarketID:  "mkt-1",
		Timestamp: time.Now().UTC(),
		Bids: []domain.PriceLevel{
			{Price: 0.48, Size: 1000},
			{Price: 0.45, Size: 2000},
		},
		Asks: []domain.PriceLevel{
			{Price: 0.52, Size: 800},
			{Price: 0.55, Size: 1500},
		},
	}
}

func TestGetMarketNotFound(t *testing.T) {
	h := NewMarketHandler(&fakeMarkets{markets: map[string]domain.MarketSnapshot{}}, &fakeBooks{}, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	h.GetMarket(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMarketsReturnsActiveWithTotal(t *testing.T) {
	markets := &fakeMarkets{markets: map[string]domain.MarketSnapshot{
		"mkt-1": {ID: "mkt-1", Question: "Will it rain?", Active: true},
		"mkt-2": {ID: "mkt-2", Question: "Resolved already", Active: false},
	}}
	h := NewMarketHandler(markets, &fakeBooks{}, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	rec := httptest.NewRecorder()

	h.ListMarkets(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Markets []domain.MarketSnapshot `json:"markets"`
		Total   int64                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Markets, 1)
	assert.Equal(t, int64(2), resp.Total)
}

func TestGetOrderbookFallsBackToStore(t *testing.T) {
	books := &fakeBooks{books: map[string]domain.OrderBookSnapshot{
		"tok-1": testBook("tok-1"),
	}}
	h := NewMarketHandler(&fakeMarkets{}, books, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/orderbooks/tok-1", nil)
	req.SetPathValue("tokenID", "tok-1")
	rec := httptest.NewRecorder()

	h.GetOrderbook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.OrderBookSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "tok-1", snap.TokenID)
	assert.Len(t, snap.Bids, 2)
}

func TestListAlertsFiltersByTypeAndActive(t *testing.T) {
	alerts := &fakeAlerts{alerts: map[string]*domain.Alert{
		"a1": {ID: "a1", Type: domain.AlertVolumeSpike, Active: true},
		"a2": {ID: "a2", Type: domain.AlertArbitrage, Active: true},
		"a3": {ID: "a3", Type: domain.AlertVolumeSpike, Active: false},
	}}
	h := NewAlertHandler(alerts, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/alerts?type=volume_spike", nil)
	rec := httptest.NewRecorder()
	h.ListAlerts(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Alerts []domain.Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, "a1", resp.Alerts[0].ID)

	// active=false also returns the dismissed spike.
	req = httptest.NewRequest(http.MethodGet, "/api/alerts?type=volume_spike&active=false", nil)
	rec = httptest.NewRecorder()
	h.ListAlerts(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Alerts, 2)
}

func TestDismissAlertIsIdempotent(t *testing.T) {
	alerts := &fakeAlerts{alerts: map[string]*domain.Alert{
		"a1": {ID: "a1", Type: domain.AlertWideSpread, Active: true},
	}}
	h := NewAlertHandler(alerts, discardLogger())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/alerts/a1/dismiss", nil)
		req.SetPathValue("id", "a1")
		rec := httptest.NewRecorder()
		h.DismissAlert(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
	assert.False(t, alerts.alerts["a1"].Active)
}

func TestUpsertRelationshipValidation(t *testing.T) {
	edges := &fakeEdges{}
	h := NewRelationshipHandler(edges, discardLogger())

	cases := []struct {
		name string
		body string
		want int
	}{
		{
			name: "unknown type",
			body: `{"type":"sibling","parent_market_id":"p","child_market_id":"c"}`,
			want: http.StatusBadRequest,
		},
		{
			name: "missing child",
			body: `{"type":"conditional","parent_market_id":"p"}`,
			want: http.StatusBadRequest,
		},
		{
			name: "mutually exclusive without group",
			body: `{"type":"mutually_exclusive","parent_market_id":"p","child_market_id":"c"}`,
			want: http.StatusBadRequest,
		},
		{
			name: "valid conditional",
			body: `{"type":"conditional","parent_market_id":"p","child_market_id":"c","confidence":0.9}`,
			want: http.StatusNoContent,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/relationships", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.UpsertRelationship(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}

	require.Len(t, edges.edges, 1)
	assert.Equal(t, domain.EdgeConditional, edges.edges[0].Type)
}

type fakeTrades struct {
	trades map[string][]domain.Trade
}

func (f *fakeTrades) ListByToken(_ context.Context, tokenID string, since, until time.Time) ([]domain.Trade, error) {
	return f.trades[tokenID], nil
}

func TestBookMetricsReportsQuoteAndDepth(t *testing.T) {
	books := &fakeBooks{books: map[string]domain.OrderBookSnapshot{
		"tok-1": testBook("tok-1"),
	}}
	h := NewAnalyticsHandler(books, &fakeTrades{}, AnalyticsConfig{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/books/tok-1", nil)
	req.SetPathValue("tokenID", "tok-1")
	rec := httptest.NewRecorder()

	h.BookMetrics(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp["quote"])
	depth, ok := resp["depth"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, depth, "5pct")
	assert.Contains(t, depth, "10pct")

	// 1% tier: only the top level of each side qualifies.
	tier, ok := depth["1pct"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 480.0, tier["bid_dollars"], 1e-9)
	assert.InDelta(t, 416.0, tier["ask_dollars"], 1e-9)
}

func TestMakerProfileUsesConfiguredPullbackThresholds(t *testing.T) {
	// Depth fell to 60% of the norm: a 40% drop. The default 0.5 limit
	// would stay quiet; the configured 0.3 limit must flag it.
	now := time.Now().UTC()
	level := func(ts time.Time, scale float64) domain.OrderBookSnapshot {
		return domain.OrderBookSnapshot{
			TokenID:   "tok-1",
			MarketID:  "mkt-1",
			Timestamp: ts,
			Bids:      []domain.PriceLevel{{Price: 0.49, Size: 1000 * scale}},
			Asks:      []domain.PriceLevel{{Price: 0.51, Size: 1000 * scale}},
		}
	}
	var history []domain.OrderBookSnapshot
	for i := 2; i <= 23; i++ {
		history = append(history, level(now.Add(-time.Duration(i)*time.Hour), 1))
	}
	history = append(history, level(now.Add(-10*time.Minute), 0.6))

	books := &fakeBooks{histories: map[string][]domain.OrderBookSnapshot{"tok-1": history}}
	h := NewAnalyticsHandler(books, &fakeTrades{}, AnalyticsConfig{DepthDropPct: 0.3}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/makers/tok-1", nil)
	req.SetPathValue("tokenID", "tok-1")
	rec := httptest.NewRecorder()

	h.MakerProfile(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	pullback, ok := resp["pullback"].(map[string]any)
	require.True(t, ok, "pullback must be computed over the fixture history")
	assert.Equal(t, true, pullback["DepthDropped"])
	assert.Equal(t, true, pullback["Flagged"])
}

func TestSlippageEmptySideRejected(t *testing.T) {
	books := &fakeBooks{books: map[string]domain.OrderBookSnapshot{
		"tok-1": {TokenID: "tok-1", Timestamp: time.Now().UTC(), Bids: []domain.PriceLevel{{Price: 0.5, Size: 100}}},
	}}
	h := NewAnalyticsHandler(books, &fakeTrades{}, AnalyticsConfig{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/books/tok-1/slippage?amount=50&side=buy", nil)
	req.SetPathValue("tokenID", "tok-1")
	rec := httptest.NewRecorder()

	h.Slippage(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMarketSafetyScoresSafeMarket(t *testing.T) {
	now := time.Now().UTC()
	book := domain.OrderBookSnapshot{
		TokenID:   "tok-yes",
		MarketID:  "mkt-1",
		Timestamp: now.Add(-5 * time.Minute),
		Bids:      []domain.PriceLevel{{Price: 0.495, Size: 4000}},
		Asks:      []domain.PriceLevel{{Price: 0.505, Size: 4000}},
	}
	markets := &fakeMarkets{markets: map[string]domain.MarketSnapshot{
		"mkt-1": {
			ID:       "mkt-1",
			Question: "Will it rain?",
			Active:   true,
			Outcomes: []domain.Outcome{
				{Name: "Yes", TokenID: "tok-yes", Price: 0.5},
				{Name: "No", TokenID: "tok-no", Price: 0.5},
			},
		},
	}}
	books := &fakeBooks{books: map[string]domain.OrderBookSnapshot{"tok-yes": book}}
	trades := &fakeTrades{trades: map[string][]domain.Trade{
		"tok-yes": {
			{TokenID: "tok-yes", Price: 0.48, Size: 100, Timestamp: now.Add(-40 * time.Minute)},
			{TokenID: "tok-yes", Price: 0.52, Size: 100, Timestamp: now.Add(-10 * time.Minute)},
		},
	}}
	alerts := &fakeAlerts{alerts: map[string]*domain.Alert{
		"a1": {ID: "a1", Type: domain.AlertVolumeSpike, MarketID: "mkt-1", Active: true},
		"a2": {ID: "a2", Type: domain.AlertWideSpread, MarketID: "mkt-1", Active: true},
	}}

	h := NewSafetyHandler(markets, books, trades, alerts, analytics.SafetyThresholds{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/safety/mkt-1", nil)
	req.SetPathValue("id", "mkt-1")
	rec := httptest.NewRecorder()

	h.MarketSafety(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		MarketID    string                `json:"market_id"`
		Safety      analytics.SafetyScore `json:"safety"`
		Explanation analytics.Explanation `json:"explanation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "mkt-1", resp.MarketID)
	assert.True(t, resp.Safety.Safe, "fresh deep tight two-signal market passes every gate")
	assert.Equal(t, 100, resp.Safety.Total)
	assert.Equal(t, string(domain.AlertWideSpread), resp.Explanation.Primary)
}

func TestSafeOpportunitiesFiltersAndRanks(t *testing.T) {
	now := time.Now().UTC()
	goodBook := func(tokenID string) domain.OrderBookSnapshot {
		return domain.OrderBookSnapshot{
			TokenID:   tokenID,
			Timestamp: now.Add(-5 * time.Minute),
			Bids:      []domain.PriceLevel{{Price: 0.49, Size: 4000}},
			Asks:      []domain.PriceLevel{{Price: 0.51, Size: 4000}},
		}
	}
	outcomes := func(tokenID string) []domain.Outcome {
		return []domain.Outcome{{Name: "Yes", TokenID: tokenID, Price: 0.5}}
	}
	markets := &fakeMarkets{markets: map[string]domain.MarketSnapshot{
		"mkt-safe":   {ID: "mkt-safe", Active: true, Outcomes: outcomes("tok-safe")},
		"mkt-nobook": {ID: "mkt-nobook", Active: true, Outcomes: outcomes("tok-nobook")},
	}}
	books := &fakeBooks{books: map[string]domain.OrderBookSnapshot{
		"tok-safe": goodBook("tok-safe"),
	}}
	alerts := &fakeAlerts{alerts: map[string]*domain.Alert{
		"a1": {ID: "a1", Type: domain.AlertVolumeSpike, MarketID: "mkt-safe", Active: true},
		"a2": {ID: "a2", Type: domain.AlertArbitrage, MarketID: "mkt-safe", Active: true},
	}}

	h := NewSafetyHandler(markets, books, &fakeTrades{}, alerts, analytics.SafetyThresholds{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/opportunities", nil)
	rec := httptest.NewRecorder()

	h.SafeOpportunities(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Opportunities []struct {
			MarketID string `json:"market_id"`
		} `json:"opportunities"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count, "the bookless market fails the gates")
	assert.Equal(t, "mkt-safe", resp.Opportunities[0].MarketID)
}

func TestHealthReportsDegradedDependency(t *testing.T) {
	h := NewHealthHandler(map[string]HealthChecker{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return context.DeadlineExceeded },
	}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	h.HealthCheck(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")
}
