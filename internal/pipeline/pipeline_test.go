package pipeline_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/core/usecases"
	"github.com/samirrijal/terragrid/internal/pipeline"
	"github.com/samirrijal/terragrid/internal/pkg/config"
	"github.com/samirrijal/terragrid/internal/pkg/geospatial"
)

var bilbao = domain.GeoPoint{Lat: 43.2630, Lon: -2.9350}

func testConfig() *config.Config {
	return &config.Config{
		Sources:  config.SourcesConfig{Order: []string{"pmtiles", "xyz", "overpass"}},
		Overpass: config.OverpassConfig{Endpoints: []string{"http://127.0.0.1:1/api/interpreter"}, Timeout: time.Second},
		XYZ:      config.XYZConfig{Servers: []string{"http://127.0.0.1:1/{z}/{x}/{y}.pbf"}, Timeout: time.Second},
		PMTiles:  config.PMTilesConfig{URLs: []string{"testdata/missing.pmtiles"}, Timeout: time.Second},
		Fetch:    config.FetchConfig{MaxTries: 2, MaxConcurrency: 4, SourceDeadline: 10 * time.Second},
		Tiles:    config.TilesConfig{Zoom: 14, Extent: 4096},
		Cache:    config.CacheConfig{Backend: "memory", TTL: time.Hour},
	}
}

func TestBuild_ProvidersFollowSourceOrder(t *testing.T) {
	p, err := pipeline.Build(context.Background(), testConfig(), nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer p.Close()

	var names []string
	for _, prov := range p.Providers {
		names = append(names, prov.Name())
	}
	if fmt.Sprint(names) != "[pmtiles xyz overpass]" {
		t.Errorf("providers = %v", names)
	}
	if p.Tiled["xyz"] == nil || p.Tiled["pmtiles"] == nil || p.Regional["overpass"] == nil {
		t.Errorf("sources not split by strategy: tiled=%v regional=%v", p.Tiled, p.Regional)
	}
	if p.DB != nil || p.Valkey != nil {
		t.Error("memory cache must not open remote backends")
	}
}

func TestBuild_UnknownSource(t *testing.T) {
	cfg := testConfig()
	cfg.Sources.Order = []string{"wms"}
	if _, err := pipeline.Build(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("expected an error for an unknown source")
	}
}

func TestOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.MaxTileFailures = 3
	cfg.Fetch.MaxTiles = 64
	opts := pipeline.Options(cfg)
	if opts.Zoom != 14 || opts.MaxConcurrency != 4 || opts.MaxTileFailures != 3 || opts.SourceDeadline != 10*time.Second || opts.MaxTiles != 64 {
		t.Errorf("unexpected options: %+v", opts)
	}

	cfg.Server.MaxCells = 100
	cfg.Server.MaxRadiusMeters = 500
	if l := pipeline.Limits(cfg); l.MaxCells != 100 || l.MaxRadiusMeters != 500 {
		t.Errorf("unexpected limits: %+v", l)
	}
}

// buildingTile encodes a vector tile holding one 8m square building
// centered on bilbao. The ring is clockwise in lon/lat so it comes out as an
// exterior ring once the tile's y axis is flipped.
func buildingTile(t *testing.T, tile maptile.Tile) []byte {
	t.Helper()
	f := geospatial.NewFrame(bilbao)
	ring := orb.Ring{}
	for _, c := range [][2]float64{{-4, -4}, {-4, 4}, {4, 4}, {4, -4}, {-4, -4}} {
		p := f.FromLocal(orb.Point{c[0], c[1]})
		ring = append(ring, orb.Point{p.Lon, p.Lat})
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Polygon{ring}))

	layers := mvt.NewLayers(map[string]*geojson.FeatureCollection{"building": fc})
	layers.ProjectToTile(tile)
	data, err := mvt.Marshal(layers)
	if err != nil {
		t.Fatalf("encode tile: %v", err)
	}
	return data
}

func TestBuild_EndToEndOverXYZ(t *testing.T) {
	home := maptile.At(orb.Point{bilbao.Lon, bilbao.Lat}, 14)
	payload := buildingTile(t, home)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != fmt.Sprintf("/%d/%d/%d.pbf", home.Z, home.X, home.Y) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Sources.Order = []string{"xyz"}
	cfg.XYZ.Servers = []string{srv.URL + "/{z}/{x}/{y}.pbf"}

	p, err := pipeline.Build(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer p.Close()

	grids := usecases.NewGridService(p.Providers, nil, nil, nil)
	req := usecases.GridRequest{Center: bilbao, RadiusMeters: 7.5, CellSizeMeters: 3, Width: 5, Height: 5}

	event, err := grids.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if event.Source != "xyz" {
		t.Errorf("source = %q", event.Source)
	}
	if got := event.Grid.At(2, 2); got != domain.House {
		t.Errorf("center cell = %s, want HOUSE\n%s", got, event.Grid.ASCII())
	}
	if got := event.Grid.At(0, 0); got != domain.Grass {
		t.Errorf("corner cell = %s, want GRASS", got)
	}

	first := hits.Load()
	if _, err := grids.Generate(context.Background(), req); err != nil {
		t.Fatalf("second generate: %v", err)
	}
	// The home tile is now cached; only absent tiles go back to the server.
	if second := hits.Load() - first; second >= first {
		t.Errorf("expected the cache to absorb repeat fetches: %d then %d requests", first, second)
	}
}
