package http

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/terragrid/internal/pkg/metrics"
)

// RouterOptions tunes the HTTP surface. Zero values take the defaults.
type RouterOptions struct {
	// GridTimeout bounds one grid or features request, including every
	// source fallback.
	GridTimeout time.Duration
	// RateLimit is the number of requests per minute per IP.
	RateLimit int
	// SpecPath locates the OpenAPI document served under /docs.
	SpecPath string
	Logger   *slog.Logger
}

func (o RouterOptions) withDefaults() RouterOptions {
	if o.GridTimeout <= 0 {
		o.GridTimeout = 2 * time.Minute
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 60
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// SetupRoutes registers the REST, GraphQL and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies, opts RouterOptions) {
	opts = opts.withDefaults()

	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware(opts.Logger))
	app.Use(AccessLogMiddleware())

	// Grid generation fans out to remote map servers; keep clients polite.
	app.Use(limiter.New(limiter.Config{
		Max:        opts.RateLimit,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")
	v1.Get("/grid", timeout.NewWithContext(GridHandler(deps), opts.GridTimeout))
	v1.Post("/grid/map", timeout.NewWithContext(MapGridHandler(deps), opts.GridTimeout))
	v1.Get("/features", timeout.NewWithContext(FeaturesHandler(deps), opts.GridTimeout))
	v1.Get("/categories", CategoriesHandler())
	v1.Get("/sources", SourcesHandler(deps))

	app.Post("/graphql", timeout.NewWithContext(GraphQLHandler(deps), opts.GridTimeout))

	SetupDocs(app, opts.SpecPath)

	// Live grid feed, only when NATS is wired
	if deps.NATS != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS, opts.Logger)))
	}
}
