package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/samirrijal/terragrid/internal/pipeline"
	"github.com/samirrijal/terragrid/internal/pkg/config"
	"github.com/samirrijal/terragrid/internal/pkg/logging"
	"github.com/samirrijal/terragrid/internal/pkg/metrics"
	"github.com/samirrijal/terragrid/internal/workflows"
)

// The prewarmer runs the Temporal worker that fills the tile cache. With
// --start it instead submits one prewarm run and waits for the result.
func main() {
	fs := pflag.NewFlagSet("prewarmer", pflag.ExitOnError)
	start := fs.Bool("start", false, "submit a prewarm run instead of running the worker")
	lat := fs.Float64("lat", 0, "center latitude")
	lon := fs.Float64("lon", 0, "center longitude")
	radius := fs.Float64("radius", 1000, "radius in meters")
	zoom := fs.Int("zoom", 0, "tile zoom (0 = tiles.zoom)")
	sources := fs.StringSlice("sources", nil, "sources to warm (default every configured source)")
	batch := fs.Int("batch", 0, "tiles per activity")

	keys := pflag.NewFlagSet("config", pflag.ExitOnError)
	keys.String("temporal.host_port", "", "Temporal frontend address")
	keys.String("temporal.task_queue", "", "task queue")
	fs.AddFlagSet(keys)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load("terragrid-prewarmer", keys)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	if *start {
		z := *zoom
		if z == 0 {
			z = cfg.Tiles.Zoom
		}
		input := workflows.PrewarmInput{
			Lat:          *lat,
			Lon:          *lon,
			RadiusMeters: *radius,
			Zoom:         z,
			Sources:      *sources,
			BatchSize:    *batch,
		}
		if err := submit(c, cfg.Temporal.TaskQueue, input); err != nil {
			log.Fatalf("prewarm: %v", err)
		}
		return
	}

	ctx := context.Background()
	p, err := pipeline.Build(ctx, cfg, metrics.NewPipeline(prometheus.DefaultRegisterer), logger)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	defer p.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflow(workflows.PrewarmWorkflow)
	w.RegisterActivity(&workflows.Activities{
		Tiled:    p.Tiled,
		Regional: p.Regional,
		Logger:   logger,
	})

	slog.Info("prewarm worker started", "task_queue", cfg.Temporal.TaskQueue, "cache", cfg.Cache.Backend)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}

func submit(c client.Client, queue string, input workflows.PrewarmInput) error {
	ctx := context.Background()
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("prewarm-%.5f-%.5f-%d", input.Lat, input.Lon, time.Now().Unix()),
		TaskQueue: queue,
	}, workflows.PrewarmWorkflow, input)
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	slog.Info("prewarm started", "workflow_id", run.GetID(), "run_id", run.GetRunID())

	var result workflows.PrewarmResult
	if err := run.Get(ctx, &result); err != nil {
		return err
	}
	for name, r := range result.Sources {
		fmt.Printf("%-10s warmed=%d absent=%d failed=%d\n", name, r.Warmed, r.Absent, r.Failed)
	}
	fmt.Printf("tiles planned: %d\n", result.Tiles)
	return nil
}
