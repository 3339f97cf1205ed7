package vectortile_test

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/samirrijal/terragrid/internal/adapters/vectortile"
	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/pkg/geospatial"
)

var coord = domain.TileCoordinate{X: 8058, Y: 6004, Z: 14}

func fixtureLayers() mvt.Layers {
	building := geojson.NewFeatureCollection()
	// Clockwise in tile space (Y down): an exterior ring.
	house := geojson.NewFeature(orb.Polygon{{{100, 100}, {200, 100}, {200, 200}, {100, 200}, {100, 100}}})
	house.Properties["render_height"] = 9
	building.Append(house)

	transport := geojson.NewFeatureCollection()
	road := geojson.NewFeature(orb.LineString{{0, 2048}, {4096, 2048}})
	road.Properties["class"] = "minor"
	transport.Append(road)
	rail := geojson.NewFeature(orb.LineString{{0, 0}, {4096, 4096}})
	rail.Properties["class"] = "rail"
	transport.Append(rail)

	poi := geojson.NewFeatureCollection()
	school := geojson.NewFeature(orb.MultiPoint{{10, 10}, {20, 20}})
	school.Properties["class"] = "school"
	poi.Append(school)

	return mvt.NewLayers(map[string]*geojson.FeatureCollection{
		"building":       building,
		"transportation": transport,
		"poi":            poi,
	})
}

func TestDecode_PNGShortCircuit(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00}
	tile := vectortile.Decode(png, coord)
	if !tile.Raster {
		t.Error("expected raster flag")
	}
	if tile.Err != nil || len(tile.Layers) != 0 {
		t.Errorf("expected empty result without error, got %d layers, err %v", len(tile.Layers), tile.Err)
	}
}

func TestDecode_CorruptDegrades(t *testing.T) {
	for _, payload := range [][]byte{
		{0x0a, 0xff, 0xff, 0xff, 0x0f},
		{0x1f, 0x8b, 0x00, 0x01}, // gzip magic, broken stream
	} {
		tile := vectortile.Decode(payload, coord)
		if tile == nil {
			t.Fatal("Decode must never return nil")
		}
		if !errors.Is(tile.Err, domain.ErrDecodeDegraded) {
			t.Errorf("expected ErrDecodeDegraded, got %v", tile.Err)
		}
		if len(tile.Layers) != 0 {
			t.Errorf("degraded tile should have no layers, got %d", len(tile.Layers))
		}
	}
}

func TestDecode_Layers(t *testing.T) {
	data, err := mvt.Marshal(fixtureLayers())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	gz, err := mvt.MarshalGzipped(fixtureLayers())
	if err != nil {
		t.Fatalf("marshal gzipped: %v", err)
	}

	for name, payload := range map[string][]byte{"plain": data, "gzip": gz} {
		t.Run(name, func(t *testing.T) {
			tile := vectortile.Decode(payload, coord)
			if tile.Err != nil {
				t.Fatalf("unexpected error: %v", tile.Err)
			}

			kinds := make(map[string][]domain.GeometryKind)
			for _, l := range tile.Layers {
				for _, f := range l.Features {
					kinds[l.Name] = append(kinds[l.Name], f.Kind)
				}
			}
			if len(kinds["building"]) != 1 || kinds["building"][0] != domain.GeometryPolygon {
				t.Errorf("building layer: %v", kinds["building"])
			}
			if len(kinds["transportation"]) != 2 || kinds["transportation"][0] != domain.GeometryLineString {
				t.Errorf("transportation layer: %v", kinds["transportation"])
			}
			// Multi-point split into two point features.
			if len(kinds["poi"]) != 2 {
				t.Errorf("poi layer: %v", kinds["poi"])
			}
		})
	}
}

// encodeFeature builds one feature holding a single MoveTo point.
func encodeFeature(id, geomType uint64, x, y int64) []byte {
	var geom []byte
	geom = protowire.AppendVarint(geom, 1|1<<3) // MoveTo, count 1
	geom = protowire.AppendVarint(geom, protowire.EncodeZigZag(x))
	geom = protowire.AppendVarint(geom, protowire.EncodeZigZag(y))

	var f []byte
	f = protowire.AppendTag(f, 1, protowire.VarintType)
	f = protowire.AppendVarint(f, id)
	f = protowire.AppendTag(f, 3, protowire.VarintType)
	f = protowire.AppendVarint(f, geomType)
	f = protowire.AppendTag(f, 4, protowire.BytesType)
	return protowire.AppendBytes(f, geom)
}

func encodeTile(layerName string, features ...[]byte) []byte {
	var layer []byte
	layer = protowire.AppendTag(layer, 15, protowire.VarintType)
	layer = protowire.AppendVarint(layer, 2)
	layer = protowire.AppendTag(layer, 1, protowire.BytesType)
	layer = protowire.AppendString(layer, layerName)
	for _, f := range features {
		layer = protowire.AppendTag(layer, 2, protowire.BytesType)
		layer = protowire.AppendBytes(layer, f)
	}
	layer = protowire.AppendTag(layer, 5, protowire.VarintType)
	layer = protowire.AppendVarint(layer, 4096)

	var tile []byte
	tile = protowire.AppendTag(tile, 3, protowire.BytesType)
	return protowire.AppendBytes(tile, layer)
}

func TestDecode_SkipsUnknownFeatureTypes(t *testing.T) {
	tests := []struct {
		name        string
		features    [][]byte
		wantPoints  int
		wantSkipped int
	}{
		{"unknown before point", [][]byte{encodeFeature(1, 0, 25, 17), encodeFeature(2, 1, 25, 17)}, 1, 1},
		{"out of range type", [][]byte{encodeFeature(1, 1, 10, 10), encodeFeature(2, 7, 5, 5)}, 1, 1},
		{"only unknown", [][]byte{encodeFeature(1, 0, 25, 17)}, 0, 1},
		{"all known", [][]byte{encodeFeature(1, 1, 1, 1), encodeFeature(2, 1, 2, 2)}, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tile := vectortile.Decode(encodeTile("poi", tt.features...), coord)
			if tile.Err != nil {
				t.Fatalf("unexpected error: %v", tile.Err)
			}
			if tile.Skipped != tt.wantSkipped {
				t.Errorf("Skipped = %d, want %d", tile.Skipped, tt.wantSkipped)
			}
			if len(tile.Layers) != 1 || tile.Layers[0].Name != "poi" {
				t.Fatalf("expected the poi layer to survive, got %+v", tile.Layers)
			}
			points := 0
			for _, f := range tile.Layers[0].Features {
				if f.Kind != domain.GeometryPoint {
					t.Errorf("unexpected kind %v", f.Kind)
				}
				points++
			}
			if points != tt.wantPoints {
				t.Errorf("got %d points, want %d", points, tt.wantPoints)
			}
		})
	}

	// The surviving point keeps its id and position.
	tile := vectortile.Decode(encodeTile("poi", encodeFeature(1, 0, 25, 17), encodeFeature(2, 1, 25, 17)), coord)
	f := tile.Layers[0].Features[0]
	if f.ID != "2" || f.Coordinates[0] != (orb.Point{25, 17}) {
		t.Errorf("got feature %+v", f)
	}
}

func TestProject_UsesTileBounds(t *testing.T) {
	data, err := mvt.Marshal(fixtureLayers())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	fc := vectortile.Project(vectortile.Decode(data, coord), vectortile.DefaultExtent)
	bbox := geospatial.TileBounds(coord)

	var road orb.LineString
	for _, f := range fc.Features {
		if f.Properties["class"] == "minor" {
			road = f.Geometry.(orb.LineString)
		}
		for _, p := range collect(f.Geometry) {
			if p.Lon() < bbox.MinLon-1e-9 || p.Lon() > bbox.MaxLon+1e-9 || p.Lat() < bbox.MinLat-1e-9 || p.Lat() > bbox.MaxLat+1e-9 {
				t.Errorf("projected point %v outside tile %+v", p, bbox)
			}
		}
	}
	if road == nil {
		t.Fatal("road not projected")
	}
	if math.Abs(road[0].Lon()-bbox.MinLon) > 1e-9 || math.Abs(road[1].Lon()-bbox.MaxLon) > 1e-9 {
		t.Errorf("road should span the tile west to east, got %v", road)
	}
	midLat := bbox.MaxLat - 0.5*(bbox.MaxLat-bbox.MinLat)
	if math.Abs(road[0].Lat()-midLat) > 1e-9 {
		t.Errorf("y=2048 should map to mid latitude %v, got %v", midLat, road[0].Lat())
	}
}

func TestDecoder_DecodeTile(t *testing.T) {
	data, err := mvt.Marshal(fixtureLayers())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	d := &vectortile.Decoder{}
	features, err := d.DecodeTile(data, coord)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawHouse, sawRoad, sawRail bool
	for _, f := range features {
		switch {
		case f.Tags["building"] == "yes":
			sawHouse = f.Kind == domain.GeometryPolygon
		case f.Tags["highway"] == "residential":
			sawRoad = true
		case f.Tags["class"] == "rail":
			_, sawRail = f.Tags["highway"]
		}
	}
	if !sawHouse || !sawRoad {
		t.Errorf("expected normalised building and road, got %+v", features)
	}
	if sawRail {
		t.Error("rail should not become a highway")
	}

	features, err = d.DecodeTile([]byte{0x89, 0x50, 0x4E, 0x47}, coord)
	if err != nil || len(features) != 0 {
		t.Errorf("raster payload should yield nothing, got %v, %v", features, err)
	}
	if _, err := d.DecodeTile([]byte{0x0a, 0xff, 0xff, 0xff, 0x0f}, coord); !errors.Is(err, domain.ErrDecodeDegraded) {
		t.Errorf("expected ErrDecodeDegraded, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		layer string
		props map[string]interface{}
		key   string
		want  string
	}{
		{"building", nil, "building", "yes"},
		{"building", map[string]interface{}{"building": "school"}, "building", "school"},
		{"transportation", map[string]interface{}{"class": "primary"}, "highway", "primary"},
		{"transportation", map[string]interface{}{"class": "path", "subclass": "footway"}, "highway", "footway"},
		{"water", map[string]interface{}{"class": "lake"}, "natural", "water"},
		{"waterway", map[string]interface{}{"class": "stream"}, "waterway", "stream"},
		{"landcover", map[string]interface{}{"class": "wood"}, "natural", "wood"},
		{"landcover", map[string]interface{}{"class": "grass"}, "landuse", "grass"},
		{"landuse", map[string]interface{}{"class": "industrial"}, "landuse", "industrial"},
		{"park", nil, "leisure", "park"},
		{"poi", map[string]interface{}{"class": "shop"}, "amenity", "shop"},
		{"poi", map[string]interface{}{"class": "cafe"}, "amenity", "cafe"},
	}
	for _, tt := range tests {
		got := vectortile.Normalize(tt.layer, tt.props)
		if got[tt.key] != tt.want {
			t.Errorf("Normalize(%s, %v)[%s] = %v, want %s", tt.layer, tt.props, tt.key, got[tt.key], tt.want)
		}
	}

	if _, ok := vectortile.Normalize("transportation", map[string]interface{}{"class": "ferry"})["highway"]; ok {
		t.Error("ferry should not become a highway")
	}
}

func collect(g orb.Geometry) []orb.Point {
	switch g := g.(type) {
	case orb.Point:
		return []orb.Point{g}
	case orb.LineString:
		return g
	case orb.Polygon:
		return g[0]
	}
	return nil
}
