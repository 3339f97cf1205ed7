package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/core/ports"
	"github.com/samirrijal/terragrid/internal/pkg/geospatial"
	"github.com/samirrijal/terragrid/internal/pkg/telemetry"
)

// errFailureBudget cancels a source whose tile failures exceeded the budget.
var errFailureBudget = errors.New("tile failure budget exceeded")

// RegionDecodeFunc decodes the answer to a whole-region query.
type RegionDecodeFunc func(payload []byte) ([]domain.Feature, error)

// QueryProvider collects a region with a single query against a source
// that answers for arbitrary bounds.
type QueryProvider struct {
	source ports.TileSource
	decode RegionDecodeFunc
	logger *slog.Logger
}

// NewQueryProvider wraps a region source. A nil logger uses slog.Default.
func NewQueryProvider(source ports.TileSource, decode RegionDecodeFunc, logger *slog.Logger) *QueryProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryProvider{source: source, decode: decode, logger: logger}
}

func (p *QueryProvider) Name() string { return p.source.Name() }

// Collect fetches and decodes the region. An undecodable answer counts as a
// source failure so the caller moves on to the next source.
func (p *QueryProvider) Collect(ctx context.Context, region domain.Region) ([]domain.Feature, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanCollectRegion,
		trace.WithAttributes(attribute.String(telemetry.AttrSource, p.Name())))
	defer span.End()

	payload, err := p.source.Fetch(ctx, domain.FetchRequest{Region: region})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	features, err := p.decode(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, &domain.ExhaustedError{Source: p.Name(), Last: err}
	}
	span.SetAttributes(attribute.Int(telemetry.AttrFeatures, len(features)))
	p.logger.Debug("region collected", "source", p.Name(), "features", len(features))
	return features, nil
}

// TileProvider collects a region by fetching every covering tile
// concurrently and decoding each one. Absent and undecodable tiles add no
// features; the source only fails when no tile could be fetched at all.
type TileProvider struct {
	source  ports.TileSource
	decoder ports.TileDecoder
	opts    PipelineOptions
	logger  *slog.Logger
}

// NewTileProvider wraps a tile source and its decoder. Zero option fields
// take their defaults.
func NewTileProvider(source ports.TileSource, decoder ports.TileDecoder, opts PipelineOptions, logger *slog.Logger) *TileProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &TileProvider{source: source, decoder: decoder, opts: opts.withDefaults(), logger: logger}
}

func (p *TileProvider) Name() string { return p.source.Name() }

// tileTally counts tile outcomes across the fetch goroutines.
type tileTally struct {
	mu       sync.Mutex
	fetched  int
	failures int
	errs     error
	last     error
}

func (t *tileTally) ok() {
	t.mu.Lock()
	t.fetched++
	t.mu.Unlock()
}

// fail records err and returns the failure count so far.
func (t *tileTally) fail(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures++
	t.errs = multierr.Append(t.errs, err)
	t.last = err
	return t.failures
}

// Collect fetches every tile covering region. Regions needing more than
// MaxTiles tiles are rejected before anything is fetched.
func (p *TileProvider) Collect(ctx context.Context, region domain.Region) ([]domain.Feature, error) {
	if n := geospatial.TileCount(region.Bounds, p.opts.Zoom); n > p.opts.MaxTiles {
		return nil, p.exhausted(domain.InvalidRequestf("region needs %d tiles at zoom %d, limit is %d", n, p.opts.Zoom, p.opts.MaxTiles))
	}
	tiles := geospatial.TilesCovering(region.Bounds, p.opts.Zoom)

	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanCollect, trace.WithAttributes(
		attribute.String(telemetry.AttrSource, p.Name()),
		attribute.Int(telemetry.AttrTiles, len(tiles)),
	))
	defer span.End()

	parent := ctx
	if p.opts.SourceDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.SourceDeadline)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxConcurrency)

	results := make([][]domain.Feature, len(tiles))
	tally := &tileTally{}

	for i, t := range tiles {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			features, err := p.collectTile(gctx, region, t)
			switch {
			case err == nil:
				tally.ok()
				results[i] = features
				return nil
			case errors.Is(err, domain.ErrInvalidRequest):
				tally.fail(err)
				return err
			}
			err = fmt.Errorf("tile %s: %w", t, err)
			if n := tally.fail(err); p.opts.MaxTileFailures > 0 && n > p.opts.MaxTileFailures {
				return fmt.Errorf("%w: %w", errFailureBudget, err)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	span.SetAttributes(attribute.Int(telemetry.AttrTileFailures, tally.failures))
	if err := parent.Err(); err != nil {
		return nil, err
	}

	if waitErr != nil {
		p.logger.Warn("source aborted", "source", p.Name(), "reason", waitErr,
			"failures", tally.failures, "errors", len(multierr.Errors(tally.errs)))
		span.RecordError(waitErr)
		span.SetStatus(codes.Error, "source aborted")
		return nil, p.exhausted(waitErr)
	}
	if err := ctx.Err(); err != nil && tally.fetched == 0 {
		span.SetStatus(codes.Error, "source deadline exceeded")
		return nil, p.exhausted(err)
	}
	if tally.fetched == 0 && tally.failures > 0 {
		span.SetStatus(codes.Error, "no tile fetched")
		return nil, p.exhausted(tally.last)
	}
	if tally.failures > 0 {
		p.logger.Warn("partial tile coverage", "source", p.Name(),
			"tiles", len(tiles), "failed", tally.failures, "error", tally.errs)
	}

	var out []domain.Feature
	for _, fs := range results {
		out = append(out, fs...)
	}
	span.SetAttributes(attribute.Int(telemetry.AttrFeatures, len(out)))
	return out, nil
}

// collectTile fetches and decodes one tile. Absent and undecodable tiles
// return no features and no error.
func (p *TileProvider) collectTile(ctx context.Context, region domain.Region, t domain.TileCoordinate) ([]domain.Feature, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanFetchTile,
		trace.WithAttributes(attribute.String(telemetry.AttrTile, t.String())))
	defer span.End()

	payload, err := p.source.Fetch(ctx, domain.FetchRequest{Region: region, Tile: &t})
	if errors.Is(err, domain.ErrTileNotFound) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	features, err := p.decoder.DecodeTile(payload, t)
	if err != nil {
		p.logger.Debug("tile decode degraded", "source", p.Name(), "tile", t.String(), "error", err)
		return nil, nil
	}
	return features, nil
}

// exhausted reports the source as failed, keeping last as the cause. A
// cause that already names this source is returned as is.
func (p *TileProvider) exhausted(last error) error {
	var ex *domain.ExhaustedError
	if errors.As(last, &ex) && ex.Source == p.Name() {
		return ex
	}
	return &domain.ExhaustedError{Source: p.Name(), Last: last}
}
