package workflows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/core/ports"
	"github.com/samirrijal/terragrid/internal/pkg/geospatial"
)

// Activity names as registered on the worker.
const (
	ActivityPlanTiles  = "PlanTiles"
	ActivityWarmTiles  = "WarmTiles"
	ActivityWarmRegion = "WarmRegion"
)

// Activities warms the tile cache. Sources must already be wrapped by the
// cache so every successful fetch is stored.
type Activities struct {
	// Tiled sources are fetched tile by tile.
	Tiled map[string]ports.TileSource
	// Regional sources answer a whole region in one query.
	Regional map[string]ports.TileSource
	Logger   *slog.Logger
}

func (a *Activities) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// PrewarmPlan is what PlanTiles decided to fetch.
type PrewarmPlan struct {
	Region   domain.Region           `json:"region"`
	Tiles    []domain.TileCoordinate `json:"tiles"`
	Tiled    []string                `json:"tiled"`
	Regional []string                `json:"regional"`
}

// WarmResult counts tile outcomes for one batch.
type WarmResult struct {
	Warmed int `json:"warmed"`
	Absent int `json:"absent"`
	Failed int `json:"failed"`
}

func (r *WarmResult) add(o WarmResult) {
	r.Warmed += o.Warmed
	r.Absent += o.Absent
	r.Failed += o.Failed
}

// PlanTiles resolves the region and the covering tiles, and splits the
// requested sources by retrieval strategy. Unknown sources and bad input
// fail without retry.
func (a *Activities) PlanTiles(ctx context.Context, input PrewarmInput) (PrewarmPlan, error) {
	center := domain.GeoPoint{Lat: input.Lat, Lon: input.Lon}
	if !center.Valid() || input.RadiusMeters <= 0 {
		return PrewarmPlan{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid region %s r=%vm", center, input.RadiusMeters), "InvalidRequest", domain.ErrInvalidRequest)
	}
	if input.Zoom < 0 || input.Zoom > 22 {
		return PrewarmPlan{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("zoom %d out of range", input.Zoom), "InvalidRequest", domain.ErrInvalidRequest)
	}

	plan := PrewarmPlan{
		Region: domain.Region{
			Center:       center,
			RadiusMeters: input.RadiusMeters,
			Bounds:       geospatial.BoundingBox(center, input.RadiusMeters),
		},
	}

	sources := input.Sources
	if len(sources) == 0 {
		for name := range a.Tiled {
			sources = append(sources, name)
		}
		for name := range a.Regional {
			sources = append(sources, name)
		}
		sort.Strings(sources)
	}
	for _, name := range sources {
		switch {
		case a.Tiled[name] != nil:
			plan.Tiled = append(plan.Tiled, name)
		case a.Regional[name] != nil:
			plan.Regional = append(plan.Regional, name)
		default:
			return PrewarmPlan{}, temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("unknown source %q", name), "InvalidRequest", domain.ErrInvalidRequest)
		}
	}
	if len(plan.Tiled) > 0 {
		plan.Tiles = geospatial.TilesCovering(plan.Region.Bounds, input.Zoom)
	}

	a.logger().Info("prewarm planned", "center", center.String(), "tiles", len(plan.Tiles),
		"tiled", plan.Tiled, "regional", plan.Regional)
	return plan, nil
}

// WarmTiles fetches a batch of tiles through a tiled source. Individual tile
// failures are counted, not returned, so one bad tile does not retry the
// whole batch. The batch only fails when the context ends.
func (a *Activities) WarmTiles(ctx context.Context, source string, region domain.Region, tiles []domain.TileCoordinate) (WarmResult, error) {
	src := a.Tiled[source]
	if src == nil {
		return WarmResult{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("unknown tiled source %q", source), "InvalidRequest", domain.ErrInvalidRequest)
	}

	var res WarmResult
	for i, t := range tiles {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := src.Fetch(ctx, domain.FetchRequest{Region: region, Tile: &t})
		switch {
		case err == nil:
			res.Warmed++
		case errors.Is(err, domain.ErrTileNotFound):
			res.Absent++
		default:
			res.Failed++
			a.logger().Debug("prewarm tile failed", "source", source, "tile", t.String(), "error", err)
		}
		activity.RecordHeartbeat(ctx, i+1)
	}
	return res, nil
}

// WarmRegion runs the whole-region query of a regional source once. A
// failure is returned so Temporal retries it.
func (a *Activities) WarmRegion(ctx context.Context, source string, region domain.Region) (WarmResult, error) {
	src := a.Regional[source]
	if src == nil {
		return WarmResult{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("unknown regional source %q", source), "InvalidRequest", domain.ErrInvalidRequest)
	}
	if _, err := src.Fetch(ctx, domain.FetchRequest{Region: region}); err != nil {
		return WarmResult{Failed: 1}, fmt.Errorf("warm %s: %w", source, err)
	}
	return WarmResult{Warmed: 1}, nil
}
