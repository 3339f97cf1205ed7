package overpass_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/samirrijal/terragrid/internal/adapters/overpass"
	"github.com/samirrijal/terragrid/internal/core/domain"
)

const sample = `{
  "version": 0.6,
  "elements": [
    {"type": "node", "id": 1, "lat": 43.0, "lon": -3.0},
    {"type": "node", "id": 2, "lat": 43.0, "lon": -2.999},
    {"type": "node", "id": 3, "lat": 43.001, "lon": -2.999},
    {"type": "node", "id": 10, "lat": 43.0005, "lon": -2.9995, "tags": {"amenity": "school"}},
    {"type": "way", "id": 100, "nodes": [1, 2, 3], "tags": {"building": "yes"}},
    {"type": "way", "id": 101, "tags": {"waterway": "river"},
     "geometry": [{"lat": 43.0, "lon": -3.0}, {"lat": 43.002, "lon": -3.0}]},
    {"type": "way", "id": 102, "tags": {"highway": "primary"},
     "geometry": [{"lat": 43.0, "lon": -3.0}, {"lat": 43.001, "lon": -3.0}, {"lat": 43.001, "lon": -2.998}]},
    {"type": "way", "id": 103, "tags": {"waterway": "canal"},
     "geometry": [{"lat": 43.0, "lon": -3.0}, {"lat": 43.001, "lon": -3.0}, {"lat": 43.001, "lon": -2.998}, {"lat": 43.0, "lon": -3.0}]},
    {"type": "way", "id": 104, "nodes": [1, 999], "tags": {"highway": "path"}},
    {"type": "relation", "id": 500, "tags": {"landuse": "forest"},
     "members": [{"type": "way", "ref": 100, "role": "outer"}]}
  ]
}`

func TestDecode_Sample(t *testing.T) {
	fc, err := overpass.Decode([]byte(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := make(map[string]orb.Geometry)
	for _, f := range fc.Features {
		byID[f.ID.(string)] = f.Geometry
	}

	if _, ok := byID["node/1"]; ok {
		t.Error("untagged nodes should not become features")
	}
	if p, ok := byID["node/10"].(orb.Point); !ok || p.Lat() != 43.0005 {
		t.Errorf("tagged node missing or wrong: %v", byID["node/10"])
	}

	// Building resolved through the node table and force-closed.
	poly, ok := byID["way/100"].(orb.Polygon)
	if !ok {
		t.Fatalf("building way should be a polygon, got %T", byID["way/100"])
	}
	if len(poly[0]) != 4 || !poly[0].Closed() {
		t.Errorf("ring should be closed with 4 points, got %v", poly[0])
	}

	if _, ok := byID["way/101"].(orb.LineString); !ok {
		t.Errorf("open waterway should stay a line, got %T", byID["way/101"])
	}
	// No waterway tag: polygon by default even though open.
	if _, ok := byID["way/102"].(orb.Polygon); !ok {
		t.Errorf("open way without waterway tag should be a polygon, got %T", byID["way/102"])
	}
	// Closed waterway: polygon.
	if _, ok := byID["way/103"].(orb.Polygon); !ok {
		t.Errorf("closed waterway should be a polygon, got %T", byID["way/103"])
	}
	if _, ok := byID["way/104"]; ok {
		t.Error("way with a single resolvable node should be dropped")
	}
	if _, ok := byID["relation/500"]; ok {
		t.Error("relations should not produce geometry")
	}
}

func TestDecodeFeatures_Classifiable(t *testing.T) {
	features, err := overpass.DecodeFeatures([]byte(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var building *domain.Feature
	for i := range features {
		if features[i].ID == "way/100" {
			building = &features[i]
		}
	}
	if building == nil {
		t.Fatal("building not found")
	}
	if building.Kind != domain.GeometryPolygon || building.Tags["building"] != "yes" {
		t.Errorf("unexpected building %+v", building)
	}
	if building.Coordinates[0] != (domain.GeoPoint{Lat: 43.0, Lon: -3.0}) {
		t.Errorf("coordinates should be lat/lon, got %v", building.Coordinates[0])
	}
}

func TestDecode_Errors(t *testing.T) {
	for _, body := range []string{
		`<html>busy</html>`,
		`{"elements": [], "remark": "runtime error: Query timed out in \"query\" at line 3 after 26 seconds."}`,
	} {
		if _, err := overpass.Decode([]byte(body)); !errors.Is(err, domain.ErrDecodeDegraded) {
			t.Errorf("Decode(%q) error = %v, want ErrDecodeDegraded", body, err)
		}
	}
	fc, err := overpass.Decode([]byte(`{"elements": []}`))
	if err != nil || len(fc.Features) != 0 {
		t.Errorf("empty response should decode cleanly, got %v, %v", fc, err)
	}
}

func TestBuildQuery(t *testing.T) {
	q := overpass.BuildQuery(domain.BoundingBox{MinLat: 43.25, MinLon: -2.95, MaxLat: 43.27, MaxLon: -2.92}, 25)
	for _, want := range []string{
		"[out:json][timeout:25][bbox:43.250000,-2.950000,43.270000,-2.920000]",
		`way["building"]`, `way["water"]`, `relation["leisure"]`, `node["amenity"]`, "out geom;",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}
}

func TestSource_FallsBackAcrossEndpoints(t *testing.T) {
	var busyHits atomic.Int32
	busy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		busyHits.Add(1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer busy.Close()

	var gotQuery string
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		gotQuery = form.Get("data")
		if r.Header.Get("Content-Type") != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		w.Write([]byte(sample))
	}))
	defer good.Close()

	src := overpass.NewSource(overpass.Config{
		Endpoints: []string{busy.URL, busy.URL, good.URL},
		Timeout:   2 * time.Second,
	}, nil, nil)

	region := domain.Region{Center: domain.GeoPoint{Lat: 43.0, Lon: -3.0}, RadiusMeters: 200}
	body, err := src.Fetch(context.Background(), domain.FetchRequest{Region: region})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != sample {
		t.Error("expected payload from the third endpoint")
	}
	if busyHits.Load() != 4 {
		t.Errorf("expected 2 tries on each busy endpoint, got %d", busyHits.Load())
	}
	if !strings.Contains(gotQuery, "out geom;") {
		t.Errorf("server did not receive the query, got %q", gotQuery)
	}
}

func TestSource_AllFail(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	src := overpass.NewSource(overpass.Config{Endpoints: []string{down.URL}}, nil, nil)
	_, err := src.Fetch(context.Background(), domain.FetchRequest{Region: domain.Region{RadiusMeters: 100}})
	if !errors.Is(err, domain.ErrSourceExhausted) {
		t.Fatalf("expected ErrSourceExhausted, got %v", err)
	}
	if !errors.Is(err, domain.ErrTransport) {
		t.Errorf("expected the last transport error to be wrapped, got %v", err)
	}
}
