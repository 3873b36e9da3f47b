package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polypulse/polypulse/internal/domain"
)

// TradeStore implements domain.TradeProvider using PostgreSQL. Trades are
// append-only; the venue trade ID is the primary key, so re-collection of an
// overlapping window is idempotent.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `id, token_id, market_id, price, size, side, timestamp`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(
			&t.ID, &t.TokenID, &t.MarketID,
			&t.Price, &t.Size, &side, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		t.Side = domain.TradeSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertBatch inserts trades in a single batch round trip. Duplicates are
// silently skipped via ON CONFLICT DO NOTHING.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trades (id, token_id, market_id, price, size, side, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`
	for _, t := range trades {
		batch.Queue(query,
			t.ID, t.TokenID, t.MarketID,
			t.Price, t.Size, string(t.Side), t.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByToken returns trades for one token in [since, until], oldest first.
func (s *TradeStore) ListByToken(ctx context.Context, tokenID string, since, until time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeCols+` FROM trades
		 WHERE token_id = $1 AND timestamp >= $2 AND timestamp <= $3
		 ORDER BY timestamp ASC`,
		tokenID, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", tokenID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades for %s: %w", tokenID, err)
	}
	return trades, nil
}

// ListByTokens returns trades for many tokens in one query, grouped by
// token, each group oldest first.
func (s *TradeStore) ListByTokens(ctx context.Context, tokenIDs []string, since, until time.Time) (map[string][]domain.Trade, error) {
	if len(tokenIDs) == 0 {
		return map[string][]domain.Trade{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeCols+` FROM trades
		 WHERE token_id = ANY($1) AND timestamp >= $2 AND timestamp <= $3
		 ORDER BY token_id, timestamp ASC`,
		tokenIDs, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades batch: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades batch: %w", err)
	}

	out := make(map[string][]domain.Trade, len(tokenIDs))
	for _, t := range trades {
		out[t.TokenID] = append(out[t.TokenID], t)
	}
	return out, nil
}

// LastTimestamp returns the newest trade timestamp, or the zero time when
// the table is empty. Collectors use it to resume from where they left off.
func (s *TradeStore) LastTimestamp(ctx context.Context) (time.Time, error) {
	var ts *time.Time
	if err := s.pool.QueryRow(ctx, "SELECT MAX(timestamp) FROM trades").Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("postgres: last trade timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// ListBefore returns trades older than the cutoff, oldest first, for
// archival before deletion.
func (s *TradeStore) ListBefore(ctx context.Context, cutoff time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeCols+` FROM trades WHERE timestamp < $1 ORDER BY timestamp ASC`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore removes trades older than the cutoff.
func (s *TradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
