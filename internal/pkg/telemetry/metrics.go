package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans emitted by the pipeline.
const TracerName = "github.com/samirrijal/terragrid"

// Span names.
const (
	SpanGenerate      = "pipeline.generate"
	SpanCollect       = "pipeline.collect"
	SpanFetchTile     = "pipeline.fetch_tile"
	SpanCollectRegion = "pipeline.collect_region"
)

// Span attribute keys.
const (
	AttrSource       = "terragrid.source"
	AttrTile         = "terragrid.tile"
	AttrTiles        = "terragrid.tiles"
	AttrFeatures     = "terragrid.features"
	AttrCellSize     = "terragrid.cell_size_m"
	AttrGridWidth    = "terragrid.grid.width"
	AttrGridHeight   = "terragrid.grid.height"
	AttrTileFailures = "terragrid.tile_failures"
)

// Tracer returns the pipeline tracer from the global provider. Without
// InitTracer it is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
