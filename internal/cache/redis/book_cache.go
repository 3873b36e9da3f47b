package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polypulse/polypulse/internal/domain"
)

// BookCache implements domain.BookCache: the latest snapshot per token as a
// JSON blob with a TTL. The API layer reads from here between collection
// runs; a miss falls through to Postgres.
type BookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBookCache creates a BookCache. Entries expire after ttl so a dead
// collector cannot keep serving stale books forever.
func NewBookCache(c *Client, ttl time.Duration) *BookCache {
	return &BookCache{rdb: c.Underlying(), ttl: ttl}
}

func bookKey(tokenID string) string {
	return "book:" + tokenID
}

// Set stores the snapshot under its token's key.
func (bc *BookCache) Set(ctx context.Context, snap domain.OrderBookSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", snap.TokenID, err)
	}
	if err := bc.rdb.Set(ctx, bookKey(snap.TokenID), payload, bc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", snap.TokenID, err)
	}
	return nil
}

// Get returns the cached snapshot, or domain.ErrNotFound on a miss.
func (bc *BookCache) Get(ctx context.Context, tokenID string) (domain.OrderBookSnapshot, error) {
	payload, err := bc.rdb.Get(ctx, bookKey(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderBookSnapshot{}, domain.ErrNotFound
		}
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get book %s: %w", tokenID, err)
	}

	var snap domain.OrderBookSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: unmarshal book %s: %w", tokenID, err)
	}
	return snap, nil
}

var _ domain.BookCache = (*BookCache)(nil)
