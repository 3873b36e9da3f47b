package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polypulse/polypulse/internal/domain"
)

// AlertStore implements domain.AlertSink using PostgreSQL. Identity is
// assigned here, not in the engine: candidates arrive without IDs and the
// store mints a UUID per recorded alert. Dedup is enforced by a partial
// unique index on (dedup_key) WHERE active, so "one active alert per key"
// holds even with concurrent writers.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// SaveCandidates records candidates, dropping any whose key collides with a
// still-active alert. It returns only the alerts actually recorded.
func (s *AlertStore) SaveCandidates(ctx context.Context, candidates []domain.AlertCandidate) ([]domain.Alert, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	const query = `
		INSERT INTO alerts (
			id, alert_type, severity, market_id, related_market_ids,
			title, description, data, dedup_key, active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10)
		ON CONFLICT (dedup_key) WHERE active DO NOTHING
		RETURNING id`

	var recorded []domain.Alert
	for _, c := range candidates {
		data, err := json.Marshal(c.Data)
		if err != nil {
			return recorded, fmt.Errorf("postgres: marshal alert data for %s: %w", c.MarketID, err)
		}

		id := uuid.NewString()
		var insertedID string
		err = s.pool.QueryRow(ctx, query,
			id, string(c.Type), string(c.Severity), c.MarketID, c.RelatedMarketIDs,
			c.Title, c.Description, data, c.Key(), c.CreatedAt,
		).Scan(&insertedID)
		if errors.Is(err, pgx.ErrNoRows) {
			// An active alert with this key already exists.
			continue
		}
		if err != nil {
			return recorded, fmt.Errorf("postgres: save alert for %s: %w", c.MarketID, err)
		}

		recorded = append(recorded, domain.Alert{
			ID:               insertedID,
			Type:             c.Type,
			Severity:         c.Severity,
			MarketID:         c.MarketID,
			RelatedMarketIDs: c.RelatedMarketIDs,
			Title:            c.Title,
			Description:      c.Description,
			Data:             c.Data,
			Active:           true,
			CreatedAt:        c.CreatedAt,
		})
	}
	return recorded, nil
}

const alertCols = `id, alert_type, severity, market_id, related_market_ids,
	title, description, data, active, created_at, dismissed_at`

func scanAlert(row pgx.Row) (domain.Alert, error) {
	var a domain.Alert
	var alertType, severity string
	var data []byte
	err := row.Scan(
		&a.ID, &alertType, &severity, &a.MarketID, &a.RelatedMarketIDs,
		&a.Title, &a.Description, &data, &a.Active, &a.CreatedAt, &a.DismissedAt,
	)
	if err != nil {
		return domain.Alert{}, err
	}
	a.Type = domain.AlertType(alertType)
	a.Severity = domain.Severity(severity)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &a.Data); err != nil {
			return domain.Alert{}, fmt.Errorf("unmarshal alert data for %s: %w", a.ID, err)
		}
	}
	return a, nil
}

// List returns alerts newest first, optionally restricted to active ones
// and/or a set of types.
func (s *AlertStore) List(ctx context.Context, activeOnly bool, types []domain.AlertType, opts domain.ListOpts) ([]domain.Alert, error) {
	query := `SELECT ` + alertCols + ` FROM alerts WHERE TRUE`
	args := []any{}
	argIdx := 1

	if activeOnly {
		query += " AND active"
	}
	if len(types) > 0 {
		typeStrs := make([]string, len(types))
		for i, t := range types {
			typeStrs[i] = string(t)
		}
		query += fmt.Sprintf(" AND alert_type = ANY($%d)", argIdx)
		args = append(args, typeStrs)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id"

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
		return nil, fmt.Errorf("postgres: list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list alerts rows: %w", err)
	}
	return alerts, nil
}

// GetByID returns one alert.
func (s *AlertStore) GetByID(ctx context.Context, id string) (domain.Alert, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+alertCols+` FROM alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Alert{}, domain.ErrNotFound
		}
		return domain.Alert{}, fmt.Errorf("postgres: get alert %s: %w", id, err)
	}
	return a, nil
}

// Dismiss deactivates an alert, releasing its dedup key so the condition can
// re-alert if it persists. Dismissing is idempotent.
func (s *AlertStore) Dismiss(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET active = FALSE, dismissed_at = NOW()
		 WHERE id = $1 AND active`, id)
	if err != nil {
		return fmt.Errorf("postgres: dismiss alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already dismissed; distinguish for the caller.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: dismiss alert %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
	}
	return nil
}

// ListBefore returns dismissed alerts older than the cutoff, oldest first.
// Used by retention to archive before deleting.
func (s *AlertStore) ListBefore(ctx context.Context, cutoff time.Time) ([]domain.Alert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertCols+` FROM alerts
		 WHERE NOT active AND created_at < $1
		 ORDER BY created_at, id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts before: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list alerts before rows: %w", err)
	}
	return alerts, nil
}

// DeleteBefore removes dismissed alerts older than the cutoff. Active alerts
// are kept regardless of age.
func (s *AlertStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alerts WHERE NOT active AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete alerts before: %w", err)
	}
	return tag.RowsAffected(), nil
}
