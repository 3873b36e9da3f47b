package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polypulse/polypulse/internal/domain"
)

// MarketStore implements domain.MarketProvider using PostgreSQL. Outcomes
// are stored as a JSONB array so n-outcome markets need no schema change.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketUpsertQuery = `
	INSERT INTO markets (
		id, condition_id, slug, question, outcomes,
		volume, liquidity, active, end_date, category,
		created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		condition_id = EXCLUDED.condition_id,
		slug         = EXCLUDED.slug,
		question     = EXCLUDED.question,
		outcomes     = EXCLUDED.outcomes,
		volume       = EXCLUDED.volume,
		liquidity    = EXCLUDED.liquidity,
		active       = EXCLUDED.active,
		end_date     = EXCLUDED.end_date,
		category     = EXCLUDED.category,
		updated_at   = NOW()`

func marketArgs(m domain.MarketSnapshot) ([]any, error) {
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return nil, fmt.Errorf("marshal outcomes for %s: %w", m.ID, err)
	}
	return []any{
		m.ID, m.ConditionID, m.Slug, m.Question, outcomes,
		m.Volume, m.Liquidity, m.Active, m.EndDate, m.Category,
		m.CreatedAt,
	}, nil
}

// Upsert inserts or updates a single market.
func (s *MarketStore) Upsert(ctx context.Context, m domain.MarketSnapshot) error {
	args, err := marketArgs(m)
	if err != nil {
		return fmt.Errorf("postgres: upsert market: %w", err)
	}
	if _, err := s.pool.Exec(ctx, marketUpsertQuery, args...); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// UpsertBatch inserts or updates multiple markets in a single batch round trip.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.MarketSnapshot) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		args, err := marketArgs(m)
		if err != nil {
			return fmt.Errorf("postgres: upsert market batch: %w", err)
		}
		batch.Queue(marketUpsertQuery, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

const marketCols = `id, condition_id, slug, question, outcomes,
	volume, liquidity, active, end_date, category, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.MarketSnapshot, error) {
	var m domain.MarketSnapshot
	var outcomes []byte
	err := row.Scan(
		&m.ID, &m.ConditionID, &m.Slug, &m.Question, &outcomes,
		&m.Volume, &m.Liquidity, &m.Active, &m.EndDate, &m.Category,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	if len(outcomes) > 0 {
		if err := json.Unmarshal(outcomes, &m.Outcomes); err != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("unmarshal outcomes for %s: %w", m.ID, err)
		}
	}
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.MarketSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListActive returns active markets with pagination and optional time filtering.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE active`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND updated_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY volume DESC, id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.MarketSnapshot
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}
