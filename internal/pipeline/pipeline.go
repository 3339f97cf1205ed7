// Package pipeline assembles sources, cache and providers from
// configuration. The api, generate and prewarmer binaries share it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samirrijal/terragrid/internal/adapters/memory"
	"github.com/samirrijal/terragrid/internal/adapters/overpass"
	"github.com/samirrijal/terragrid/internal/adapters/pmtiles"
	"github.com/samirrijal/terragrid/internal/adapters/postgres"
	"github.com/samirrijal/terragrid/internal/adapters/valkey"
	"github.com/samirrijal/terragrid/internal/adapters/vectortile"
	"github.com/samirrijal/terragrid/internal/adapters/xyz"
	"github.com/samirrijal/terragrid/internal/core/ports"
	"github.com/samirrijal/terragrid/internal/core/usecases"
	"github.com/samirrijal/terragrid/internal/pkg/config"
	"github.com/samirrijal/terragrid/internal/pkg/metrics"
	"github.com/samirrijal/terragrid/internal/pkg/tilecache"
)

// Options converts the fetch and tile settings into pipeline options.
func Options(cfg *config.Config) usecases.PipelineOptions {
	opts := usecases.DefaultPipelineOptions()
	opts.Zoom = cfg.Tiles.Zoom
	opts.MaxConcurrency = cfg.Fetch.MaxConcurrency
	opts.MaxTileFailures = cfg.Fetch.MaxTileFailures
	opts.SourceDeadline = cfg.Fetch.SourceDeadline
	opts.MaxTiles = cfg.Fetch.MaxTiles
	return opts
}

// Limits maps the server section of cfg onto request limits.
func Limits(cfg *config.Config) usecases.GridLimits {
	return usecases.GridLimits{
		MaxCells:        cfg.Server.MaxCells,
		MaxRadiusMeters: cfg.Server.MaxRadiusMeters,
	}
}

// Pipeline is the assembled set of sources and providers. Tiled and
// Regional hold the cache-wrapped sources by name.
type Pipeline struct {
	Providers []ports.FeatureProvider
	Tiled     map[string]ports.TileSource
	Regional  map[string]ports.TileSource

	// Backends, set only when the cache backend uses them.
	DB     *postgres.DB
	Valkey *valkey.Cache

	closers []func()
}

// Close releases the cache backend connections.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// Build wires every source named in cfg.Sources.Order, in that order.
func Build(ctx context.Context, cfg *config.Config, m *metrics.Pipeline, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		Tiled:    make(map[string]ports.TileSource),
		Regional: make(map[string]ports.TileSource),
	}

	cache, err := p.openCache(ctx, cfg, m, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	wrap := func(src ports.TileSource) ports.TileSource {
		if cache == nil {
			return src
		}
		return cache.Wrap(src)
	}

	opts := Options(cfg)
	decoder := &vectortile.Decoder{Extent: float64(cfg.Tiles.Extent), Metrics: m, Logger: logger}

	for _, name := range cfg.Sources.Order {
		switch name {
		case overpass.Name:
			src := wrap(overpass.NewSource(overpass.Config{
				Endpoints: cfg.Overpass.Endpoints,
				Timeout:   cfg.Overpass.Timeout,
				MaxTries:  cfg.Fetch.MaxTries,
				UserAgent: cfg.Fetch.UserAgent,
			}, m, logger))
			p.Regional[name] = src
			p.Providers = append(p.Providers, usecases.NewQueryProvider(src, overpass.DecodeFeatures, logger))

		case xyz.Name:
			src := wrap(xyz.NewSource(xyz.Config{
				Servers:   cfg.XYZ.Servers,
				Timeout:   cfg.XYZ.Timeout,
				MaxTries:  cfg.Fetch.MaxTries,
				UserAgent: cfg.Fetch.UserAgent,
			}, m, logger))
			p.Tiled[name] = src
			p.Providers = append(p.Providers, usecases.NewTileProvider(src, decoder, opts, logger))

		case pmtiles.Name:
			src := wrap(pmtiles.NewSource(pmtiles.Config{
				Archives:  cfg.PMTiles.URLs,
				Timeout:   cfg.PMTiles.Timeout,
				MaxTries:  cfg.Fetch.MaxTries,
				UserAgent: cfg.Fetch.UserAgent,
			}, m, logger))
			p.Tiled[name] = src
			p.Providers = append(p.Providers, usecases.NewTileProvider(src, decoder, opts, logger))

		default:
			p.Close()
			return nil, fmt.Errorf("unknown source %q", name)
		}
	}

	logger.Info("pipeline ready", "sources", cfg.Sources.Order, "cache", cfg.Cache.Backend, "zoom", opts.Zoom)
	return p, nil
}

// openCache connects the configured cache backend. "none" disables caching.
func (p *Pipeline) openCache(ctx context.Context, cfg *config.Config, m *metrics.Pipeline, logger *slog.Logger) (*tilecache.Cache, error) {
	var store ports.CacheStore
	switch cfg.Cache.Backend {
	case "none":
		return nil, nil
	case "", "memory":
		store = memory.NewCache()
	case "valkey":
		vc, err := valkey.New(cfg.Valkey.Addr, cfg.Valkey.Prefix, cfg.Cache.TTL)
		if err != nil {
			return nil, err
		}
		p.Valkey = vc
		p.closers = append(p.closers, vc.Close)
		store = vc
	case "postgres":
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		p.DB = db
		p.closers = append(p.closers, db.Close)
		store = postgres.NewCacheRepo(db)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	return tilecache.New(store, cfg.Cache.TTL,
		tilecache.WithMetrics(m),
		tilecache.WithLogger(logger),
	), nil
}
