package vectortile

import (
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/pkg/geospatial"
	"github.com/samirrijal/terragrid/internal/pkg/metrics"
)

// DefaultExtent is the tile-local coordinate range of one tile edge.
const DefaultExtent = 4096

// Project maps every feature of t onto geographic coordinates using the
// tile's bounding box. Tile-local Y grows downward, so latitude is taken
// from the top edge. Properties are normalised to OSM-style tags.
func Project(t *Tile, extent float64) *geojson.FeatureCollection {
	if extent <= 0 {
		extent = DefaultExtent
	}
	bbox := geospatial.TileBounds(t.Coord)
	dLon := bbox.MaxLon - bbox.MinLon
	dLat := bbox.MaxLat - bbox.MinLat

	project := func(pts []orb.Point) []orb.Point {
		out := make([]orb.Point, len(pts))
		for i, p := range pts {
			out[i] = orb.Point{
				bbox.MinLon + (p[0]/extent)*dLon,
				bbox.MaxLat - (p[1]/extent)*dLat,
			}
		}
		return out
	}

	fc := geojson.NewFeatureCollection()
	for _, layer := range t.Layers {
		for _, f := range layer.Features {
			if len(f.Coordinates) == 0 {
				continue
			}
			pts := project(f.Coordinates)

			var geom orb.Geometry
			switch f.Kind {
			case domain.GeometryPoint:
				geom = pts[0]
			case domain.GeometryLineString:
				geom = orb.LineString(pts)
			case domain.GeometryPolygon:
				geom = orb.Polygon{orb.Ring(pts)}
			default:
				continue
			}

			gf := geojson.NewFeature(geom)
			if f.ID != "" {
				gf.ID = f.ID
			}
			gf.Properties = Normalize(layer.Name, f.Properties)
			fc.Append(gf)
		}
	}
	return fc
}

// Decoder turns tile payloads into geographic features for the pipeline.
type Decoder struct {
	Extent  float64
	Metrics *metrics.Pipeline
	Logger  *slog.Logger
}

// DecodeTile decodes and projects one payload. Raster payloads yield no
// features and no error. Corrupt payloads yield no features and an error
// wrapping domain.ErrDecodeDegraded, which callers are expected to absorb.
func (d *Decoder) DecodeTile(payload []byte, coord domain.TileCoordinate) ([]domain.Feature, error) {
	t := Decode(payload, coord)
	switch {
	case t.Err != nil:
		d.Metrics.TileDecoded("degraded")
		d.logger().Debug("tile decode degraded", "tile", coord.String(), "error", t.Err)
		return nil, t.Err
	case t.Raster:
		d.Metrics.TileDecoded("raster")
		d.logger().Debug("raster tile skipped", "tile", coord.String())
		return nil, nil
	}
	if t.Skipped > 0 {
		d.logger().Debug("unknown features skipped", "tile", coord.String(), "count", t.Skipped)
	}
	d.Metrics.TileDecoded("vector")
	return geospatial.FromGeoJSON(Project(t, d.Extent)), nil
}

func (d *Decoder) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}
