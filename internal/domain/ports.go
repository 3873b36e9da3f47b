package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketProvider supplies current market metadata.
type MarketProvider interface {
	Upsert(ctx context.Context, m MarketSnapshot) error
	UpsertBatch(ctx context.Context, markets []MarketSnapshot) error
	GetByID(ctx context.Context, id string) (MarketSnapshot, error)
	ListActive(ctx context.Context, opts ListOpts) ([]MarketSnapshot, error)
	Count(ctx context.Context) (int64, error)
}

// OrderbookProvider supplies latest and windowed-historical book snapshots.
type OrderbookProvider interface {
	Insert(ctx context.Context, snap OrderBookSnapshot) error
	Latest(ctx context.Context, tokenID string) (OrderBookSnapshot, error)
	LatestBatch(ctx context.Context, tokenIDs []string) (map[string]OrderBookSnapshot, error)
	History(ctx context.Context, tokenID string, since time.Time) ([]OrderBookSnapshot, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TradeProvider supplies trades by token and time range.
type TradeProvider interface {
	InsertBatch(ctx context.Context, trades []Trade) error
	ListByToken(ctx context.Context, tokenID string, since, until time.Time) ([]Trade, error)
	ListByTokens(ctx context.Context, tokenIDs []string, since, until time.Time) (map[string][]Trade, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RelationshipProvider supplies the relationship graph.
type RelationshipProvider interface {
	Upsert(ctx context.Context, edge RelationshipEdge) error
	ListByType(ctx context.Context, t EdgeType) ([]RelationshipEdge, error)
	ListAll(ctx context.Context) ([]RelationshipEdge, error)
}

// AlertSink records alert candidates. SaveCandidates applies the dedup
// contract: a candidate whose Key matches a still-active alert is dropped,
// not re-emitted. It returns the alerts actually recorded.
type AlertSink interface {
	SaveCandidates(ctx context.Context, candidates []AlertCandidate) ([]Alert, error)
	List(ctx context.Context, activeOnly bool, types []AlertType, opts ListOpts) ([]Alert, error)
	GetByID(ctx context.Context, id string) (Alert, error)
	Dismiss(ctx context.Context, id string) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BookCache caches the latest book snapshot per token for cheap reads by the
// API layer between collection runs.
type BookCache interface {
	Set(ctx context.Context, snap OrderBookSnapshot) error
	Get(ctx context.Context, tokenID string) (OrderBookSnapshot, error)
}

// AlertBus publishes recorded alerts to streaming consumers.
type AlertBus interface {
	Publish(ctx context.Context, alert Alert) error
	Subscribe(ctx context.Context) (<-chan []byte, error)
}
