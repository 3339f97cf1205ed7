package usecases

import "time"

// PipelineOptions tunes tile collection. Build one with
// DefaultPipelineOptions and override fields; the pipeline reads no globals.
type PipelineOptions struct {
	// Zoom is the tile zoom used to enumerate tiles covering a region.
	Zoom int
	// MaxConcurrency caps simultaneous tile fetches per source.
	MaxConcurrency int
	// MaxTileFailures aborts a source once more tiles than this have
	// failed. Zero means no budget.
	MaxTileFailures int
	// SourceDeadline bounds the whole collection from one source. Zero
	// means none.
	SourceDeadline time.Duration
	// MaxTiles rejects regions that need more tiles than this.
	MaxTiles int
}

// DefaultPipelineOptions returns zoom 14, eight concurrent fetches, no
// failure budget, a one minute deadline per source and at most 1024 tiles
// per region.
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		Zoom:           14,
		MaxConcurrency: 8,
		SourceDeadline: time.Minute,
		MaxTiles:       1024,
	}
}

func (o PipelineOptions) withDefaults() PipelineOptions {
	d := DefaultPipelineOptions()
	if o.Zoom <= 0 {
		o.Zoom = d.Zoom
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = d.MaxConcurrency
	}
	if o.MaxTiles <= 0 {
		o.MaxTiles = d.MaxTiles
	}
	if o.MaxTileFailures < 0 {
		o.MaxTileFailures = 0
	}
	return o
}
