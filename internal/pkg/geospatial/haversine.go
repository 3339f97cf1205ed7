package geospatial

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// Haversine returns the great-circle distance in meters between two points.
func Haversine(a, b domain.GeoPoint) float64 {
	return geo.DistanceHaversine(orb.Point{a.Lon, a.Lat}, orb.Point{b.Lon, b.Lat})
}

// Span returns the north-south extent of b in meters.
func Span(b domain.BoundingBox) float64 {
	return Haversine(domain.GeoPoint{Lat: b.MinLat, Lon: b.MinLon}, domain.GeoPoint{Lat: b.MaxLat, Lon: b.MinLon})
}
