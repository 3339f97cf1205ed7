// Package overpass is the query-based tile source. It POSTs a bounded
// Overpass QL query to a list of interpreter endpoints and decodes the JSON
// answer into geographic features.
package overpass

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samirrijal/terragrid/internal/adapters/fetch"
	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/pkg/geospatial"
	"github.com/samirrijal/terragrid/internal/pkg/metrics"
)

// Name identifies this source in cache keys, metrics and logs.
const Name = "overpass"

// DefaultEndpoints are public interpreter instances, in preference order.
var DefaultEndpoints = []string{
	"https://overpass-api.de/api/interpreter",
	"https://overpass.kumi.systems/api/interpreter",
	"https://overpass.private.coffee/api/interpreter",
}

// Config configures the source.
type Config struct {
	Endpoints []string
	Timeout   time.Duration // per try
	MaxTries  int
	UserAgent string
	Client    *http.Client
}

// Source fetches raw Overpass responses for a region.
type Source struct {
	endpoints []string
	runner    *fetch.Runner
	client    *fetch.Client
	timeout   time.Duration
}

func NewSource(cfg Config, m *metrics.Pipeline, logger *slog.Logger) *Source {
	endpoints := cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Source{
		endpoints: endpoints,
		runner:    fetch.NewRunner(Name, fetch.Policy{MaxTries: cfg.MaxTries, Timeout: cfg.Timeout}, m, logger),
		client:    &fetch.Client{HTTP: cfg.Client, UserAgent: cfg.UserAgent},
		timeout:   cfg.Timeout,
	}
}

func (s *Source) Name() string { return Name }

// Fetch queries the region's bounds. Tile requests are answered with the
// tile's bounds instead.
func (s *Source) Fetch(ctx context.Context, req domain.FetchRequest) ([]byte, error) {
	bbox := req.Region.Bounds
	switch {
	case req.Tile != nil:
		bbox = geospatial.TileBounds(*req.Tile)
	case bbox == (domain.BoundingBox{}):
		bbox = geospatial.BoundingBox(req.Region.Center, req.Region.RadiusMeters)
	}

	// The server-side timeout stays below ours so it answers with a remark
	// instead of being cut off.
	serverTimeout := int(s.timeout.Seconds()) - 5
	form := url.Values{"data": {BuildQuery(bbox, serverTimeout)}}.Encode()

	return s.runner.Do(ctx, s.endpoints, func(ctx context.Context, endpoint string) ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return s.client.Do(httpReq)
	})
}
