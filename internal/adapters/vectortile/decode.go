// Package vectortile decodes Mapbox Vector Tile payloads into tile-local
// geometry and projects that geometry onto geographic coordinates.
package vectortile

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

var (
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47}
	gzipMagic = []byte{0x1f, 0x8b}
)

// Feature is one decoded feature in tile-local integer coordinates. Polygon
// features carry their outer ring only.
type Feature struct {
	ID          string
	Kind        domain.GeometryKind
	Coordinates []orb.Point
	Properties  map[string]interface{}
}

// Layer is a named group of features.
type Layer struct {
	Name     string
	Extent   uint32
	Features []Feature
}

// Tile is the result of decoding one payload. It is always usable: raster
// and corrupt payloads simply have no layers.
type Tile struct {
	Coord  domain.TileCoordinate
	Layers []Layer
	Raster  bool  // payload was a PNG image
	Skipped int   // features of unknown type, or without geometry, left out
	Err     error // set when decoding degraded; wraps domain.ErrDecodeDegraded
}

// Decode parses a payload. PNG payloads short-circuit to an empty raster
// result. Gzip-wrapped payloads are inflated first. Any failure degrades to
// an empty result with Err set; Decode never returns nil.
func Decode(data []byte, coord domain.TileCoordinate) *Tile {
	t := &Tile{Coord: coord}

	if bytes.HasPrefix(data, pngMagic) {
		t.Raster = true
		return t
	}

	if bytes.HasPrefix(data, gzipMagic) {
		inflated, err := gunzip(data)
		if err != nil {
			t.Err = fmt.Errorf("%w: tile %s: gzip: %v", domain.ErrDecodeDegraded, coord, err)
			return t
		}
		data = inflated
	}

	data, skipped, err := dropUnknownFeatures(data)
	if err != nil {
		t.Err = fmt.Errorf("%w: tile %s: %v", domain.ErrDecodeDegraded, coord, err)
		return t
	}
	t.Skipped = skipped

	layers, err := unmarshal(data)
	if err != nil {
		t.Err = fmt.Errorf("%w: tile %s: %v", domain.ErrDecodeDegraded, coord, err)
		return t
	}

	for _, l := range layers {
		layer := Layer{Name: l.Name, Extent: l.Extent}
		for _, f := range l.Features {
			if f == nil || f.Geometry == nil {
				continue
			}
			id := ""
			if f.ID != nil {
				id = fmt.Sprint(f.ID)
			}
			for _, part := range split(f.Geometry) {
				part.ID = id
				part.Properties = f.Properties
				layer.Features = append(layer.Features, part)
			}
		}
		t.Layers = append(t.Layers, layer)
	}
	return t
}

// unmarshal guards against panics from malformed protobuf input.
func unmarshal(data []byte) (layers mvt.Layers, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mvt: %v", r)
		}
	}()
	return mvt.Unmarshal(data)
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// split breaks a geometry into single-part features. Geometry collections
// and unknown types are dropped.
func split(g orb.Geometry) []Feature {
	switch g := g.(type) {
	case orb.Point:
		return []Feature{{Kind: domain.GeometryPoint, Coordinates: []orb.Point{g}}}
	case orb.MultiPoint:
		out := make([]Feature, 0, len(g))
		for _, p := range g {
			out = append(out, Feature{Kind: domain.GeometryPoint, Coordinates: []orb.Point{p}})
		}
		return out
	case orb.LineString:
		return []Feature{{Kind: domain.GeometryLineString, Coordinates: g}}
	case orb.MultiLineString:
		out := make([]Feature, 0, len(g))
		for _, ls := range g {
			out = append(out, Feature{Kind: domain.GeometryLineString, Coordinates: ls})
		}
		return out
	case orb.Polygon:
		if len(g) == 0 {
			return nil
		}
		return []Feature{{Kind: domain.GeometryPolygon, Coordinates: g[0]}}
	case orb.MultiPolygon:
		out := make([]Feature, 0, len(g))
		for _, poly := range g {
			if len(poly) > 0 {
				out = append(out, Feature{Kind: domain.GeometryPolygon, Coordinates: poly[0]})
			}
		}
		return out
	}
	return nil
}
