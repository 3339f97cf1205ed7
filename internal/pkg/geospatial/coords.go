// Package geospatial holds the coordinate math shared by the pipeline:
// local planar frames, slippy-map tile addressing and line resampling.
// Everything here is pure.
package geospatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// metersPerDegree is the length of one degree of latitude (and of longitude
// at the equator) on the spherical approximation.
const metersPerDegree = 111320.0

// maxMercatorLat is the latitude at which the Web Mercator square ends.
const maxMercatorLat = 85.05112878

// minCos keeps the longitude scale finite at the poles.
const minCos = 1e-9

// BoundingBox returns a square region of half-width radiusMeters around
// center, using a local equirectangular approximation. The center is the
// geometric center of the result.
func BoundingBox(center domain.GeoPoint, radiusMeters float64) domain.BoundingBox {
	latDelta := radiusMeters / metersPerDegree
	lonDelta := radiusMeters / (metersPerDegree * lonScale(center.Lat))

	return domain.BoundingBox{
		MinLat: center.Lat - latDelta,
		MinLon: center.Lon - lonDelta,
		MaxLat: center.Lat + latDelta,
		MaxLon: center.Lon + lonDelta,
	}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func lonScale(lat float64) float64 {
	return math.Max(math.Cos(toRad(lat)), minCos)
}

// Frame is a local planar coordinate system in meters, centered on Origin.
// X grows east, Y grows north.
type Frame struct {
	Origin domain.GeoPoint
	scale  float64 // meters per degree of longitude at the origin
}

// NewFrame builds a frame around origin.
func NewFrame(origin domain.GeoPoint) Frame {
	return Frame{Origin: origin, scale: metersPerDegree * lonScale(origin.Lat)}
}

// ToLocal converts a geographic point to frame meters.
func (f Frame) ToLocal(p domain.GeoPoint) orb.Point {
	return orb.Point{
		(p.Lon - f.Origin.Lon) * f.scale,
		(p.Lat - f.Origin.Lat) * metersPerDegree,
	}
}

// FromLocal is the inverse of ToLocal.
func (f Frame) FromLocal(pt orb.Point) domain.GeoPoint {
	return domain.GeoPoint{
		Lat: f.Origin.Lat + pt[1]/metersPerDegree,
		Lon: f.Origin.Lon + pt[0]/f.scale,
	}
}

// TileIndex returns the slippy-map tile containing p at zoom. Latitudes beyond
// the Mercator limit and longitude 180 are clamped onto the edge tiles.
func TileIndex(p domain.GeoPoint, zoom int) domain.TileCoordinate {
	n := math.Exp2(float64(zoom))
	lat := math.Max(-maxMercatorLat, math.Min(maxMercatorLat, p.Lat))
	latRad := toRad(lat)

	x := int(math.Floor((p.Lon + 180.0) / 360.0 * n))
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	return domain.TileCoordinate{X: clamp(x, 0, maxTile), Y: clamp(y, 0, maxTile), Z: zoom}
}

// TileBounds returns the geographic bounds of a tile; the inverse of TileIndex.
func TileBounds(t domain.TileCoordinate) domain.BoundingBox {
	b := maptile.New(uint32(t.X), uint32(t.Y), maptile.Zoom(t.Z)).Bound()
	return domain.BoundingBox{
		MinLat: b.Min.Lat(),
		MinLon: b.Min.Lon(),
		MaxLat: b.Max.Lat(),
		MaxLon: b.Max.Lon(),
	}
}

// TilesCovering returns every tile at zoom whose bounds intersect b, edge
// tiles included, in row-major order.
func TilesCovering(b domain.BoundingBox, zoom int) []domain.TileCoordinate {
	nw, se := corners(b, zoom)

	tiles := make([]domain.TileCoordinate, 0, (se.X-nw.X+1)*(se.Y-nw.Y+1))
	for y := nw.Y; y <= se.Y; y++ {
		for x := nw.X; x <= se.X; x++ {
			tiles = append(tiles, domain.TileCoordinate{X: x, Y: y, Z: zoom})
		}
	}
	return tiles
}

// TileCount is len(TilesCovering(b, zoom)) without building the list.
func TileCount(b domain.BoundingBox, zoom int) int {
	nw, se := corners(b, zoom)
	return (se.X - nw.X + 1) * (se.Y - nw.Y + 1)
}

func corners(b domain.BoundingBox, zoom int) (nw, se domain.TileCoordinate) {
	nw = TileIndex(domain.GeoPoint{Lat: b.MaxLat, Lon: b.MinLon}, zoom)
	se = TileIndex(domain.GeoPoint{Lat: b.MinLat, Lon: b.MaxLon}, zoom)
	return nw, se
}

// Resample inserts points along line so that consecutive points are never
// more than spacing apart. Every original vertex is kept, so both endpoints
// survive. Lines with fewer than two points, or a non-positive spacing, are
// returned unchanged.
func Resample(line orb.LineString, spacing float64) orb.LineString {
	if len(line) <= 1 || spacing <= 0 {
		return line
	}

	out := orb.LineString{line[0]}
	for i := 1; i < len(line); i++ {
		a, b := line[i-1], line[i]
		dx, dy := b[0]-a[0], b[1]-a[1]
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}
		steps := int(math.Ceil(length / spacing))
		for s := 1; s < steps; s++ {
			t := float64(s) / float64(steps)
			out = append(out, orb.Point{a[0] + dx*t, a[1] + dy*t})
		}
		out = append(out, b)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
