package geospatial

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// FromGeoJSON flattens a feature collection into domain features. Multi
// geometries become one feature per part, and polygons keep only their outer
// ring. Geometry types the pipeline cannot draw are skipped.
func FromGeoJSON(fc *geojson.FeatureCollection) []domain.Feature {
	if fc == nil {
		return nil
	}
	out := make([]domain.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		base := domain.Feature{ID: featureID(f.ID), Tags: tags(f.Properties)}

		switch g := f.Geometry.(type) {
		case orb.Point:
			out = append(out, with(base, domain.GeometryPoint, []orb.Point{g}))
		case orb.MultiPoint:
			for _, p := range g {
				out = append(out, with(base, domain.GeometryPoint, []orb.Point{p}))
			}
		case orb.LineString:
			out = append(out, with(base, domain.GeometryLineString, g))
		case orb.MultiLineString:
			for _, ls := range g {
				out = append(out, with(base, domain.GeometryLineString, ls))
			}
		case orb.Polygon:
			if len(g) > 0 {
				out = append(out, with(base, domain.GeometryPolygon, g[0]))
			}
		case orb.MultiPolygon:
			for _, poly := range g {
				if len(poly) > 0 {
					out = append(out, with(base, domain.GeometryPolygon, poly[0]))
				}
			}
		}
	}
	return out
}

// ToGeoJSON renders classified features as GeoJSON with the category and
// priority folded into the properties.
func ToGeoJSON(features []domain.ClassifiedFeature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		line := make(orb.LineString, len(f.Coordinates))
		for i, p := range f.Coordinates {
			line[i] = orb.Point{p.Lon, p.Lat}
		}

		var geom orb.Geometry
		switch {
		case f.Kind == domain.GeometryPoint && len(line) > 0:
			geom = line[0]
		case f.Kind == domain.GeometryPolygon:
			ring := orb.Ring(line)
			if len(ring) > 0 && !ring.Closed() {
				ring = append(ring, ring[0])
			}
			geom = orb.Polygon{ring}
		default:
			geom = line
		}

		gf := geojson.NewFeature(geom)
		if f.ID != "" {
			gf.ID = f.ID
		}
		for k, v := range f.Tags {
			gf.Properties[k] = v
		}
		gf.Properties["category"] = f.Category.String()
		gf.Properties["priority"] = f.Priority
		fc.Append(gf)
	}
	return fc
}

func with(base domain.Feature, kind domain.GeometryKind, pts []orb.Point) domain.Feature {
	base.Kind = kind
	base.Coordinates = make([]domain.GeoPoint, len(pts))
	for i, p := range pts {
		base.Coordinates[i] = domain.GeoPoint{Lat: p.Lat(), Lon: p.Lon()}
	}
	return base
}

func featureID(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprint(id)
}

func tags(props geojson.Properties) map[string]string {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, v := range props {
		switch s := v.(type) {
		case string:
			out[k] = s
		case nil:
		default:
			out[k] = fmt.Sprint(s)
		}
	}
	return out
}
