package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/core/usecases"
	"github.com/samirrijal/terragrid/internal/pipeline"
	"github.com/samirrijal/terragrid/internal/pkg/config"
	"github.com/samirrijal/terragrid/internal/pkg/logging"
	"github.com/samirrijal/terragrid/internal/pkg/metrics"
)

// generate renders one terrain grid and prints it.
//
//	generate --lat 43.2630 --lon -2.9350 --radius 150 --cell 2
//	generate --lat 43.2630 --lon -2.9350 --sources overpass --format json
func main() {
	fs := pflag.NewFlagSet("generate", pflag.ExitOnError)
	lat := fs.Float64("lat", 0, "center latitude (required)")
	lon := fs.Float64("lon", 0, "center longitude (required)")
	radius := fs.Float64("radius", 100, "fetch radius in meters")
	cell := fs.Float64("cell", 2, "cell size in meters")
	width := fs.Int("width", 0, "grid width in cells (0 = derived from radius)")
	height := fs.Int("height", 0, "grid height in cells (0 = derived from radius)")
	sources := fs.StringSlice("sources", nil, "source order for this run (default sources.order)")
	format := fs.String("format", "ascii", "output format: ascii or json")
	stats := fs.Bool("stats", false, "print cell counts per category to stderr")

	// Flags named after config keys override them.
	keys := pflag.NewFlagSet("config", pflag.ExitOnError)
	keys.String("cache.backend", "", "cache backend: memory, valkey, postgres or none")
	keys.String("log.level", "", "log level")
	fs.AddFlagSet(keys)
	_ = fs.Parse(os.Args[1:])

	if !fs.Changed("lat") || !fs.Changed("lon") {
		fmt.Fprintln(os.Stderr, "generate: --lat and --lon are required")
		fs.Usage()
		os.Exit(2)
	}
	if *format != "ascii" && *format != "json" {
		fmt.Fprintf(os.Stderr, "generate: unknown format %q\n", *format)
		os.Exit(2)
	}

	cfg, err := config.Load("terragrid-generate", keys)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	// Logs go to stderr so the grid can be piped.
	logger := logging.SetupWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.Build(ctx, cfg, metrics.NewPipeline(prometheus.NewRegistry()), logger)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	defer p.Close()

	grids := usecases.NewGridService(p.Providers, nil, nil, logger)
	grids.SetLimits(pipeline.Limits(cfg))
	event, err := grids.Generate(ctx, usecases.GridRequest{
		Center:         domain.GeoPoint{Lat: *lat, Lon: *lon},
		RadiusMeters:   *radius,
		CellSizeMeters: *cell,
		Width:          *width,
		Height:         *height,
		Sources:        *sources,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate: %v\n", err)
		if errors.Is(err, domain.ErrInvalidRequest) {
			os.Exit(2)
		}
		os.Exit(1)
	}

	if *format == "json" {
		enc := json.NewEncoder(os.Stdout)
		if err := enc.Encode(event); err != nil {
			log.Fatalf("encode: %v", err)
		}
	} else {
		fmt.Print(event.Grid.ASCII())
	}

	if *stats {
		printStats(event)
	}
}

func printStats(event *domain.GridGenerated) {
	counts := event.Grid.Counts()
	cats := make([]domain.TerrainCategory, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return counts[cats[i]] > counts[cats[j]] })

	fmt.Fprintf(os.Stderr, "source=%s features=%d grid=%dx%d\n",
		event.Source, event.Features, event.Grid.Width, event.Grid.Height)
	for _, c := range cats {
		fmt.Fprintf(os.Stderr, "  %c %-10s %d\n", c.Glyph(), c, counts[c])
	}
}
