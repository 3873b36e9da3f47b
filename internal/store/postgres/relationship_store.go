package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polypulse/polypulse/internal/domain"
)

// RelationshipStore implements domain.RelationshipProvider using PostgreSQL.
type RelationshipStore struct {
	pool *pgxpool.Pool
}

// NewRelationshipStore creates a new RelationshipStore.
func NewRelationshipStore(pool *pgxpool.Pool) *RelationshipStore {
	return &RelationshipStore{pool: pool}
}

const relationshipCols = `id, relation_type, parent_market_id, child_market_id,
	group_id, confidence, notes, created_at, updated_at`

// Upsert inserts an edge or refreshes an existing one. Edge identity is the
// (type, parent, child) triple.
func (s *RelationshipStore) Upsert(ctx context.Context, edge domain.RelationshipEdge) error {
	const query = `
		INSERT INTO market_relationships (
			relation_type, parent_market_id, child_market_id,
			group_id, confidence, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (relation_type, parent_market_id, child_market_id) DO UPDATE SET
			group_id   = EXCLUDED.group_id,
			confidence = EXCLUDED.confidence,
			notes      = EXCLUDED.notes,
			updated_at = NOW()`
	_, err := s.pool.Exec(ctx, query,
		string(edge.Type), edge.ParentMarketID, edge.ChildMarketID,
		edge.GroupID, edge.Confidence, edge.Notes,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert relationship %s %s->%s: %w",
			edge.Type, edge.ParentMarketID, edge.ChildMarketID, err)
	}
	return nil
}

// ListByType returns all edges of one relationship type.
func (s *RelationshipStore) ListByType(ctx context.Context, t domain.EdgeType) ([]domain.RelationshipEdge, error) {
	return s.query(ctx,
		`SELECT `+relationshipCols+` FROM market_relationships
		 WHERE relation_type = $1 ORDER BY id`, string(t))
}

// ListAll returns the whole relationship graph.
func (s *RelationshipStore) ListAll(ctx context.Context) ([]domain.RelationshipEdge, error) {
	return s.query(ctx,
		`SELECT `+relationshipCols+` FROM market_relationships ORDER BY id`)
}

func (s *RelationshipStore) query(ctx context.Context, query string, args ...any) ([]domain.RelationshipEdge, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list relationships: %w", err)
	}
	defer rows.Close()

	var edges []domain.RelationshipEdge
	for rows.Next() {
		e, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan relationship: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list relationships rows: %w", err)
	}
	return edges, nil
}

func scanRelationship(row pgx.Row) (domain.RelationshipEdge, error) {
	var e domain.RelationshipEdge
	var relType string
	err := row.Scan(
		&e.ID, &relType, &e.ParentMarketID, &e.ChildMarketID,
		&e.GroupID, &e.Confidence, &e.Notes, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return domain.RelationshipEdge{}, err
	}
	e.Type = domain.EdgeType(relType)
	return e, nil
}
