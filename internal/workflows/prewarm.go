package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// TaskQueue is the default queue the prewarmer worker listens on.
const TaskQueue = "terrain-prewarm"

// PrewarmInput is the input of the prewarm workflow.
type PrewarmInput struct {
	Lat          float64  `json:"lat"`
	Lon          float64  `json:"lon"`
	RadiusMeters float64  `json:"radius_m"`
	Zoom         int      `json:"zoom"`
	Sources      []string `json:"sources"` // empty = every registered source
	BatchSize    int      `json:"batch_size"`
}

// PrewarmResult summarises a prewarm run.
type PrewarmResult struct {
	Tiles   int                   `json:"tiles"`
	Sources map[string]WarmResult `json:"sources"`
}

const defaultBatchSize = 16

func batches(tiles []domain.TileCoordinate, size int) [][]domain.TileCoordinate {
	var out [][]domain.TileCoordinate
	for len(tiles) > 0 {
		n := min(size, len(tiles))
		out = append(out, tiles[:n])
		tiles = tiles[n:]
	}
	return out
}

// PrewarmWorkflow fills the tile cache for a region so later grid requests
// are served without touching the network. Tiles are fetched in batches
// running in parallel; regional sources are queried once. A source whose
// warm-up fails is logged and skipped, the others carry on.
func PrewarmWorkflow(ctx workflow.Context, input PrewarmInput) (PrewarmResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting prewarm workflow", "lat", input.Lat, "lon", input.Lon, "radius", input.RadiusMeters)

	planCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	var plan PrewarmPlan
	if err := workflow.ExecuteActivity(planCtx, ActivityPlanTiles, input).Get(ctx, &plan); err != nil {
		return PrewarmResult{}, err
	}

	warmCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{"InvalidRequest"},
		},
	})

	size := input.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}

	result := PrewarmResult{Tiles: len(plan.Tiles), Sources: make(map[string]WarmResult)}

	type pending struct {
		source string
		tiles  int
		future workflow.Future
	}
	var futures []pending
	for _, source := range plan.Tiled {
		for _, batch := range batches(plan.Tiles, size) {
			futures = append(futures, pending{source, len(batch),
				workflow.ExecuteActivity(warmCtx, ActivityWarmTiles, source, plan.Region, batch)})
		}
	}
	for _, source := range plan.Regional {
		futures = append(futures, pending{source, 1,
			workflow.ExecuteActivity(warmCtx, ActivityWarmRegion, source, plan.Region)})
	}

	for _, p := range futures {
		var res WarmResult
		if err := p.future.Get(ctx, &res); err != nil {
			logger.Warn("prewarm batch failed", "source", p.source, "error", err)
			res = WarmResult{Failed: p.tiles}
		}
		total := result.Sources[p.source]
		total.add(res)
		result.Sources[p.source] = total
	}

	logger.Info("Prewarm finished", "tiles", result.Tiles, "sources", len(result.Sources))
	return result, nil
}
