package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// CacheRepo implements ports.CacheStore on the tile_cache table.
type CacheRepo struct {
	db *DB
}

// NewCacheRepo creates a new CacheRepo.
func NewCacheRepo(db *DB) *CacheRepo {
	return &CacheRepo{db: db}
}

// Get returns the stored value for key, or domain.ErrCacheMiss.
func (r *CacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT payload FROM tile_cache WHERE key = $1`, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("tile_cache get: %w", err)
	}
	return payload, nil
}

// Set upserts key.
func (r *CacheRepo) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO tile_cache (key, payload, stored_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE
		SET payload = EXCLUDED.payload, stored_at = EXCLUDED.stored_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("tile_cache set: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes rows stored more than ageSeconds ago and returns
// how many went.
func (r *CacheRepo) PurgeOlderThan(ctx context.Context, ageSeconds int) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM tile_cache WHERE stored_at < now() - make_interval(secs => $1)`, ageSeconds)
	if err != nil {
		return 0, fmt.Errorf("tile_cache purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
