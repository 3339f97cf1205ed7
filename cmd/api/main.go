package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/samirrijal/terragrid/internal/adapters/http"
	natsadapter "github.com/samirrijal/terragrid/internal/adapters/nats"
	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/core/ports"
	"github.com/samirrijal/terragrid/internal/core/usecases"
	"github.com/samirrijal/terragrid/internal/pipeline"
	"github.com/samirrijal/terragrid/internal/pkg/config"
	"github.com/samirrijal/terragrid/internal/pkg/logging"
	"github.com/samirrijal/terragrid/internal/pkg/metrics"
	"github.com/samirrijal/terragrid/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("terragrid-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Sources, cache and providers
	m := metrics.NewPipeline(prometheus.DefaultRegisterer)
	p, err := pipeline.Build(ctx, cfg, m, logger)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	defer p.Close()

	// NATS
	var publisher ports.GridPublisher
	deps := &http.Dependencies{DB: p.DB, Cache: p.Valkey}
	if cfg.NATS.Enabled {
		nc, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable", "error", err)
		} else {
			defer nc.Close()
			publisher = nc
			deps.NATS = nc.Conn()
		}
	}

	grids := usecases.NewGridService(p.Providers, publisher, m, logger)
	grids.SetLimits(pipeline.Limits(cfg))
	deps.Grids = grids

	if cfg.Server.ConsumeRequests {
		sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("nats subscriber: %v", err)
		}
		defer sub.Close()
		err = sub.SubscribeGridRequests(ctx, func(ctx context.Context, req usecases.GridRequest) error {
			_, err := grids.Generate(ctx, req)
			if err != nil && !errors.Is(err, domain.ErrInvalidRequest) {
				slog.Warn("queued grid request failed", "error", err)
			}
			return err
		})
		if err != nil {
			log.Fatalf("subscribe grid requests: %v", err)
		}
		slog.Info("consuming grid requests", "subject", natsadapter.SubjectGridRequests)
	}

	// Pool gauges for the postgres cache backend
	if p.DB != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					metrics.UpdateDBPoolMetrics(p.DB.Stat())
				}
			}
		}()
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    64 * 1024,
		AppName:      "Terragrid API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, If-None-Match",
		ExposeHeaders:    "Link, X-Total-Count, X-Terrain-Source, ETag",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps, http.RouterOptions{
		GridTimeout: cfg.Server.GridTimeout,
		RateLimit:   cfg.Server.RateLimit,
		SpecPath:    cfg.Server.SpecPath,
		Logger:      logger,
	})

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "sources", grids.Sources())
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
