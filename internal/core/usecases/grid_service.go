package usecases

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/terragrid/internal/core/classify"
	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/core/ports"
	"github.com/samirrijal/terragrid/internal/core/raster"
	"github.com/samirrijal/terragrid/internal/pkg/geospatial"
	"github.com/samirrijal/terragrid/internal/pkg/metrics"
	"github.com/samirrijal/terragrid/internal/pkg/telemetry"
)

// GridRequest is the input of one pipeline run. A zero Width or Height is
// derived from the radius. Sources lists provider names in preference
// order; empty means the service default.
type GridRequest struct {
	Center         domain.GeoPoint
	RadiusMeters   float64
	CellSizeMeters float64
	Width          int
	Height         int
	Sources        []string
}

// GridLimits bounds the work a single request may ask for.
type GridLimits struct {
	// MaxCells caps width*height.
	MaxCells int
	// MaxRadiusMeters caps the fetched region, which covers both the
	// requested radius and the whole grid.
	MaxRadiusMeters float64
}

// DefaultGridLimits allows a 2048x2048 grid over a 25 km radius.
func DefaultGridLimits() GridLimits {
	return GridLimits{MaxCells: raster.DefaultMaxCells, MaxRadiusMeters: 25_000}
}

// FeatureSet is the classified, clipped feature list of a region.
type FeatureSet struct {
	Source   string
	Region   domain.Region
	Features []domain.ClassifiedFeature
}

// GridService runs the pipeline: source selection with fallback, decode,
// classify, rasterize.
type GridService struct {
	providers map[string]ports.FeatureProvider
	order     []string
	publisher ports.GridPublisher
	limits    GridLimits
	metrics   *metrics.Pipeline
	logger    *slog.Logger
	now       func() time.Time
}

// NewGridService creates a GridService. providers are tried in the given
// order unless a request names its own. publisher and m may be nil.
func NewGridService(providers []ports.FeatureProvider, publisher ports.GridPublisher, m *metrics.Pipeline, logger *slog.Logger) *GridService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &GridService{
		providers: make(map[string]ports.FeatureProvider, len(providers)),
		publisher: publisher,
		limits:    DefaultGridLimits(),
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
	for _, p := range providers {
		if _, dup := s.providers[p.Name()]; dup {
			continue
		}
		s.providers[p.Name()] = p
		s.order = append(s.order, p.Name())
	}
	return s
}

// SetLimits replaces the request limits. Non-positive fields keep their
// defaults.
func (s *GridService) SetLimits(l GridLimits) {
	d := DefaultGridLimits()
	if l.MaxCells <= 0 {
		l.MaxCells = d.MaxCells
	}
	if l.MaxRadiusMeters <= 0 {
		l.MaxRadiusMeters = d.MaxRadiusMeters
	}
	s.limits = l
}

func (s *GridService) params(r GridRequest) raster.Params {
	return raster.Params{
		Center:       r.Center,
		RadiusMeters: r.RadiusMeters,
		CellSize:     r.CellSizeMeters,
		Width:        r.Width,
		Height:       r.Height,
		MaxCells:     s.limits.MaxCells,
	}
}

// Sources returns the default source order.
func (s *GridService) Sources() []string {
	return append([]string(nil), s.order...)
}

// Generate produces a terrain grid for req. Individual tile failures only
// thin out the result; the call fails when the request is invalid or every
// source failed.
func (s *GridService) Generate(ctx context.Context, req GridRequest) (_ *domain.GridGenerated, err error) {
	start := s.now()
	defer func() { s.metrics.ObserveGenerate(start, err) }()

	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanGenerate, trace.WithAttributes(
		attribute.Float64(telemetry.AttrCellSize, req.CellSizeMeters),
	))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	set, err := s.Features(ctx, req)
	if err != nil {
		return nil, err
	}

	grid, err := raster.Rasterize(set.Features, s.params(req))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrSource, set.Source),
		attribute.Int(telemetry.AttrGridWidth, grid.Width),
		attribute.Int(telemetry.AttrGridHeight, grid.Height),
	)

	event := &domain.GridGenerated{
		Region:         set.Region,
		CellSizeMeters: req.CellSizeMeters,
		Source:         set.Source,
		Features:       len(set.Features),
		Grid:           grid,
		GeneratedAt:    s.now().UTC(),
	}
	if s.publisher != nil {
		if perr := s.publisher.PublishGrid(ctx, event); perr != nil {
			s.logger.Warn("grid publish failed", "error", perr)
		}
	}

	s.logger.Info("grid generated",
		"source", set.Source,
		"center", req.Center.String(),
		"width", grid.Width,
		"height", grid.Height,
		"features", len(set.Features),
		"extent_m", math.Round(geospatial.Span(set.Region.Bounds)),
		"duration", time.Since(start),
	)
	return event, nil
}

// Features collects, classifies and clips the features of the area a grid
// for req would cover.
func (s *GridService) Features(ctx context.Context, req GridRequest) (*FeatureSet, error) {
	order, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	params := s.params(req)
	w, h, _ := params.Dimensions()
	gridBounds, _ := params.Bounds()

	// The fetch area covers both the requested radius and the whole grid.
	fetchRadius := max(req.RadiusMeters, float64(max(w, h))*req.CellSizeMeters/2)
	if fetchRadius > s.limits.MaxRadiusMeters {
		return nil, domain.InvalidRequestf("fetch radius %.0fm exceeds the %.0fm limit", fetchRadius, s.limits.MaxRadiusMeters)
	}
	region := domain.Region{
		Center:       req.Center,
		RadiusMeters: fetchRadius,
		Bounds:       geospatial.BoundingBox(req.Center, fetchRadius),
	}

	source, features, err := s.collect(ctx, order, region)
	if err != nil {
		return nil, err
	}

	classified := classify.Renderable(features)
	counts := make(map[domain.TerrainCategory]int)
	for _, f := range classified {
		counts[f.Category]++
	}
	for c, n := range counts {
		s.metrics.FeaturesClassified(c.String(), n)
	}

	visible := newFeatureIndex(classified).Within(gridBounds)
	s.logger.Debug("features classified", "source", source,
		"collected", len(features), "renderable", len(classified), "in_grid", len(visible))

	return &FeatureSet{Source: source, Region: region, Features: visible}, nil
}

// collect tries each provider in order until one succeeds.
func (s *GridService) collect(ctx context.Context, order []string, region domain.Region) (string, []domain.Feature, error) {
	var last error
	for i, name := range order {
		features, err := s.providers[name].Collect(ctx, region)
		if err == nil {
			return name, features, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", nil, ctxErr
		}
		last = err
		s.metrics.SourceFallback(name)
		if i < len(order)-1 {
			s.logger.Warn("source failed, falling back", "source", name, "next", order[i+1], "error", err)
		} else {
			s.logger.Warn("source failed", "source", name, "error", err)
		}
	}
	return "", nil, &domain.ExhaustedError{Last: last}
}

func (s *GridService) validate(req GridRequest) ([]string, error) {
	if !req.Center.Valid() {
		return nil, domain.InvalidRequestf("center %s out of range", req.Center)
	}
	if !(req.RadiusMeters > 0) || math.IsInf(req.RadiusMeters, 0) {
		return nil, domain.InvalidRequestf("radius must be positive, got %v", req.RadiusMeters)
	}
	if _, _, err := s.params(req).Dimensions(); err != nil {
		return nil, err
	}

	order := req.Sources
	if len(order) == 0 {
		order = s.order
	}
	if len(order) == 0 {
		return nil, errors.New("no sources configured")
	}
	for _, name := range order {
		if _, ok := s.providers[name]; !ok {
			return nil, domain.InvalidRequestf("unknown source %q", name)
		}
	}
	return order, nil
}
