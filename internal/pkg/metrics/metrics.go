package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const namespace = "terragrid"

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Fetch outcomes recorded by Pipeline.FetchAttempt.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeRetry    = "retry"
	OutcomeFailed   = "failed"
)

// Pipeline holds the terrain pipeline collectors. A nil *Pipeline is valid
// and records nothing, so components can run without metrics in tests.
type Pipeline struct {
	fetchAttempts      *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	tilesDecoded       *prometheus.CounterVec
	featuresClassified *prometheus.CounterVec
	sourceFallbacks    *prometheus.CounterVec
	generateDuration   *prometheus.HistogramVec
}

// NewPipeline registers the pipeline collectors on reg. Pass
// prometheus.DefaultRegisterer to expose them on /metrics.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)
	return &Pipeline{
		fetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Fetch tries against source endpoints, by outcome",
		}, []string{"source", "outcome"}),
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total tile cache hits",
		}, []string{"source"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total tile cache misses",
		}, []string{"source"}),
		tilesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tiles",
			Name:      "decoded_total",
			Help:      "Decoded tile payloads, by result (vector, raster, degraded)",
		}, []string{"result"}),
		featuresClassified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "classified_total",
			Help:      "Features classified, by terrain category",
		}, []string{"category"}),
		sourceFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "source_fallbacks_total",
			Help:      "Times a source failed and the next one was tried",
		}, []string{"source"}),
		generateDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "generate_duration_seconds",
			Help:      "Duration of grid generation, by result",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"result"}),
	}
}

func (p *Pipeline) FetchAttempt(source, outcome string) {
	if p == nil {
		return
	}
	p.fetchAttempts.WithLabelValues(source, outcome).Inc()
}

func (p *Pipeline) CacheHit(source string) {
	if p == nil {
		return
	}
	p.cacheHits.WithLabelValues(source).Inc()
}

func (p *Pipeline) CacheMiss(source string) {
	if p == nil {
		return
	}
	p.cacheMisses.WithLabelValues(source).Inc()
}

func (p *Pipeline) TileDecoded(result string) {
	if p == nil {
		return
	}
	p.tilesDecoded.WithLabelValues(result).Inc()
}

func (p *Pipeline) FeaturesClassified(category string, n int) {
	if p == nil || n == 0 {
		return
	}
	p.featuresClassified.WithLabelValues(category).Add(float64(n))
}

func (p *Pipeline) SourceFallback(source string) {
	if p == nil {
		return
	}
	p.sourceFallbacks.WithLabelValues(source).Inc()
}

// ObserveGenerate records how long a generation took. err decides the
// result label.
func (p *Pipeline) ObserveGenerate(start time.Time, err error) {
	if p == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.generateDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics copies pool statistics into the db gauges. It takes an
// interface so this package does not import pgxpool.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
