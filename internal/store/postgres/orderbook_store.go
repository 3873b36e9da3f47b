package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polypulse/polypulse/internal/domain"
)

// OrderbookStore implements domain.OrderbookProvider using PostgreSQL.
// Snapshots are an append-only time series; sides are stored as JSONB level
// arrays.
type OrderbookStore struct {
	pool *pgxpool.Pool
}

// NewOrderbookStore creates a new OrderbookStore.
func NewOrderbookStore(pool *pgxpool.Pool) *OrderbookStore {
	return &OrderbookStore{pool: pool}
}

// Insert appends one snapshot.
func (s *OrderbookStore) Insert(ctx context.Context, snap domain.OrderBookSnapshot) error {
	bids, err := json.Marshal(snap.Bids)
	if err != nil {
		return fmt.Errorf("postgres: marshal bids for %s: %w", snap.TokenID, err)
	}
	asks, err := json.Marshal(snap.Asks)
	if err != nil {
		return fmt.Errorf("postgres: marshal asks for %s: %w", snap.TokenID, err)
	}

	const query = `
		INSERT INTO orderbook_snapshots (token_id, market_id, timestamp, bids, asks)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query,
		snap.TokenID, snap.MarketID, snap.Timestamp, bids, asks,
	); err != nil {
		return fmt.Errorf("postgres: insert snapshot for %s: %w", snap.TokenID, err)
	}
	return nil
}

const snapshotCols = `token_id, market_id, timestamp, bids, asks`

func scanSnapshot(row pgx.Row) (domain.OrderBookSnapshot, error) {
	var snap domain.OrderBookSnapshot
	var bids, asks []byte
	if err := row.Scan(&snap.TokenID, &snap.MarketID, &snap.Timestamp, &bids, &asks); err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	if len(bids) > 0 {
		if err := json.Unmarshal(bids, &snap.Bids); err != nil {
			return domain.OrderBookSnapshot{}, fmt.Errorf("unmarshal bids for %s: %w", snap.TokenID, err)
		}
	}
	if len(asks) > 0 {
		if err := json.Unmarshal(asks, &snap.Asks); err != nil {
			return domain.OrderBookSnapshot{}, fmt.Errorf("unmarshal asks for %s: %w", snap.TokenID, err)
		}
	}
	return snap, nil
}

// Latest returns the most recent snapshot for a token.
func (s *OrderbookStore) Latest(ctx context.Context, tokenID string) (domain.OrderBookSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotCols+` FROM orderbook_snapshots
		 WHERE token_id = $1 ORDER BY timestamp DESC LIMIT 1`, tokenID)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OrderBookSnapshot{}, domain.ErrNotFound
		}
		return domain.OrderBookSnapshot{}, fmt.Errorf("postgres: latest snapshot for %s: %w", tokenID, err)
	}
	return snap, nil
}

// LatestBatch returns the most recent snapshot per token in one query.
// Tokens with no snapshots are simply absent from the result.
func (s *OrderbookStore) LatestBatch(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBookSnapshot, error) {
	if len(tokenIDs) == 0 {
		return map[string]domain.OrderBookSnapshot{}, nil
	}

	const query = `
		SELECT DISTINCT ON (token_id) ` + snapshotCols + `
		FROM orderbook_snapshots
		WHERE token_id = ANY($1)
		ORDER BY token_id, timestamp DESC`
	rows, err := s.pool.Query(ctx, query, tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest snapshot batch: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.OrderBookSnapshot, len(tokenIDs))
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot batch: %w", err)
		}
		out[snap.TokenID] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: latest snapshot batch rows: %w", err)
	}
	return out, nil
}

// History returns snapshots for a token since the given time, oldest first.
func (s *OrderbookStore) History(ctx context.Context, tokenID string, since time.Time) ([]domain.OrderBookSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotCols+` FROM orderbook_snapshots
		 WHERE token_id = $1 AND timestamp >= $2 ORDER BY timestamp ASC`,
		tokenID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: snapshot history for %s: %w", tokenID, err)
	}
	defer rows.Close()

	var out []domain.OrderBookSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot history: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: snapshot history rows: %w", err)
	}
	return out, nil
}

// ListBefore returns snapshots older than the cutoff, oldest first, for
// archival before deletion.
func (s *OrderbookStore) ListBefore(ctx context.Context, cutoff time.Time) ([]domain.OrderBookSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotCols+` FROM orderbook_snapshots
		 WHERE timestamp < $1 ORDER BY timestamp ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderBookSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan snapshots before: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// DeleteBefore removes snapshots older than the cutoff and reports how many
// rows went away.
func (s *OrderbookStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM orderbook_snapshots WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before: %w", err)
	}
	return tag.RowsAffected(), nil
}
