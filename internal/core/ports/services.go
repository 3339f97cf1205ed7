package ports

import (
	"context"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// TileSource retrieves raw payloads from one retrieval strategy (query API,
// XYZ tile server, tile archive). Fetch returns domain.ErrTileNotFound for
// absent tiles and a *domain.ExhaustedError once every endpoint failed.
type TileSource interface {
	Name() string
	Fetch(ctx context.Context, req domain.FetchRequest) ([]byte, error)
}

// FeatureProvider turns a region into geographic features: fetch, decode and
// project behind one call. The orchestrator iterates providers without
// knowing which strategy backs them.
type FeatureProvider interface {
	Name() string
	Collect(ctx context.Context, region domain.Region) ([]domain.Feature, error)
}

// CacheStore is an external key-value store. Get returns domain.ErrCacheMiss
// for unknown keys. Callers treat every error as non-fatal.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// GridPublisher hands generated grids to downstream formatters.
type GridPublisher interface {
	PublishGrid(ctx context.Context, event *domain.GridGenerated) error
}

// TileDecoder turns one fetched tile payload into geographic features.
// Raster payloads yield no features and no error; malformed payloads return
// an error wrapping domain.ErrDecodeDegraded.
type TileDecoder interface {
	DecodeTile(payload []byte, tile domain.TileCoordinate) ([]domain.Feature, error)
}
