package domain

import "fmt"

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies inside the WGS 84 coordinate range.
func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// BoundingBox represents an axis-aligned geographic rectangle.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether p lies inside the box, edges included.
func (b BoundingBox) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Intersects reports whether the two boxes share at least one point.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat && b.MinLon <= o.MaxLon && o.MinLon <= b.MaxLon
}

// Center returns the geometric center of the box.
func (b BoundingBox) Center() GeoPoint {
	return GeoPoint{Lat: (b.MinLat + b.MaxLat) / 2, Lon: (b.MinLon + b.MaxLon) / 2}
}

// Extend grows the box so that it contains p.
func (b BoundingBox) Extend(p GeoPoint) BoundingBox {
	if p.Lat < b.MinLat {
		b.MinLat = p.Lat
	}
	if p.Lat > b.MaxLat {
		b.MaxLat = p.Lat
	}
	if p.Lon < b.MinLon {
		b.MinLon = p.Lon
	}
	if p.Lon > b.MaxLon {
		b.MaxLon = p.Lon
	}
	return b
}

// BoundsOf returns the smallest box containing every point. ok is false for
// an empty input.
func BoundsOf(points []GeoPoint) (b BoundingBox, ok bool) {
	if len(points) == 0 {
		return BoundingBox{}, false
	}
	b = BoundingBox{MinLat: points[0].Lat, MaxLat: points[0].Lat, MinLon: points[0].Lon, MaxLon: points[0].Lon}
	for _, p := range points[1:] {
		b = b.Extend(p)
	}
	return b, true
}

// TileCoordinate addresses a tile in the slippy-map (XYZ) scheme.
type TileCoordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (t TileCoordinate) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Valid reports whether x and y fall inside [0, 2^z).
func (t TileCoordinate) Valid() bool {
	if t.Z < 0 || t.Z > 30 {
		return false
	}
	n := 1 << t.Z
	return t.X >= 0 && t.X < n && t.Y >= 0 && t.Y < n
}

// Region is the area a pipeline run covers.
type Region struct {
	Center       GeoPoint    `json:"center"`
	RadiusMeters float64     `json:"radius_m"`
	Bounds       BoundingBox `json:"bounds"`
}

// FetchRequest identifies one unit of retrieval: a single tile when Tile is
// set, otherwise the whole region.
type FetchRequest struct {
	Region Region
	Tile   *TileCoordinate
}

// CacheKey derives the cache identity of the request for the named source.
// Whole-region keys round the center to ~10m and the radius to a meter.
func (r FetchRequest) CacheKey(source string) string {
	if r.Tile != nil {
		return fmt.Sprintf("%s:tile:%d/%d/%d", source, r.Tile.Z, r.Tile.X, r.Tile.Y)
	}
	return fmt.Sprintf("%s:region:%.4f:%.4f:%.0f", source, r.Region.Center.Lat, r.Region.Center.Lon, r.Region.RadiusMeters)
}
