// Package xyz is the slippy-map tile server source: one GET per tile on a
// {z}/{x}/{y} URL template, trying servers in order.
package xyz

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samirrijal/terragrid/internal/adapters/fetch"
	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/pkg/metrics"
)

// Name identifies the source in config and cache keys.
const Name = "xyz"

// Config configures the source. Servers are URL templates containing
// {z}, {x} and {y}.
type Config struct {
	Servers   []string
	Timeout   time.Duration
	MaxTries  int
	UserAgent string
	Client    *http.Client
}

// Source fetches individual tiles.
type Source struct {
	servers []string
	runner  *fetch.Runner
	client  *fetch.Client
}

func NewSource(cfg Config, m *metrics.Pipeline, logger *slog.Logger) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Source{
		servers: cfg.Servers,
		runner:  fetch.NewRunner(Name, fetch.Policy{MaxTries: cfg.MaxTries, Timeout: cfg.Timeout}, m, logger),
		client:  &fetch.Client{HTTP: cfg.Client, UserAgent: cfg.UserAgent, AbsentOn404: true},
	}
}

func (s *Source) Name() string { return Name }

// Fetch retrieves one tile. Region-only requests are a caller error.
func (s *Source) Fetch(ctx context.Context, req domain.FetchRequest) ([]byte, error) {
	if req.Tile == nil {
		return nil, domain.InvalidRequestf("xyz source needs a tile coordinate")
	}
	if !req.Tile.Valid() {
		return nil, domain.InvalidRequestf("tile %s out of range", req.Tile)
	}

	urls := make([]string, len(s.servers))
	for i, tmpl := range s.servers {
		urls[i] = Expand(tmpl, *req.Tile)
	}

	return s.runner.Do(ctx, urls, func(ctx context.Context, u string) ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		return s.client.Do(httpReq)
	})
}

// Expand substitutes the tile address into a URL template.
func Expand(tmpl string, t domain.TileCoordinate) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
	).Replace(tmpl)
}
