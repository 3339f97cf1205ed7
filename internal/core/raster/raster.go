// Package raster burns classified geographic features into a TileGrid.
//
// Features are drawn in ascending priority order (water first, grass last)
// into a grid pre-filled with Grass. A cell holding a higher-priority category
// is never overwritten by a lower-or-equal one; the only exception is water
// polygons, which may replace one another.
package raster

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/samirrijal/terragrid/internal/core/classify"
	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/pkg/geospatial"
)

const (
	mainRoadBuffer    = 1.5 // cells
	defaultLineBuffer = 1.0 // cells
)

// DefaultMaxCells is the cell budget used when Params.MaxCells is zero:
// a 2048x2048 grid.
const DefaultMaxCells = 1 << 22

// Params describes the grid to produce. A zero Width or Height is derived
// from the radius as ceil(2*radius/cellSize).
type Params struct {
	Center       domain.GeoPoint
	RadiusMeters float64
	CellSize     float64
	Width        int
	Height       int
	MaxCells     int // zero means DefaultMaxCells
}

// Dimensions resolves the grid size, rejecting anything non-positive and
// anything over the cell budget.
func (p Params) Dimensions() (width, height int, err error) {
	if p.CellSize <= 0 || math.IsNaN(p.CellSize) || math.IsInf(p.CellSize, 0) {
		return 0, 0, domain.InvalidRequestf("cell size must be positive, got %v", p.CellSize)
	}
	if p.Width < 0 || p.Height < 0 {
		return 0, 0, domain.InvalidRequestf("grid dimensions must not be negative, got %dx%d", p.Width, p.Height)
	}
	limit := p.MaxCells
	if limit <= 0 {
		limit = DefaultMaxCells
	}

	width, height = p.Width, p.Height
	if width == 0 || height == 0 {
		derived := math.Ceil(2 * p.RadiusMeters / p.CellSize)
		if math.IsNaN(derived) || derived > float64(limit) {
			return 0, 0, domain.InvalidRequestf("radius %vm with cell size %vm exceeds the %d cell limit", p.RadiusMeters, p.CellSize, limit)
		}
		if width == 0 {
			width = int(derived)
		}
		if height == 0 {
			height = int(derived)
		}
	}
	if width <= 0 || height <= 0 {
		return 0, 0, domain.InvalidRequestf("radius %vm with cell size %vm gives a %dx%d grid", p.RadiusMeters, p.CellSize, width, height)
	}
	// Divide rather than multiply so huge sides cannot overflow.
	if width > limit || height > limit/width {
		return 0, 0, domain.InvalidRequestf("a %dx%d grid exceeds the %d cell limit", width, height, limit)
	}
	return width, height, nil
}

// Bounds returns the geographic extent covered by the grid.
func (p Params) Bounds() (domain.BoundingBox, error) {
	w, h, err := p.Dimensions()
	if err != nil {
		return domain.BoundingBox{}, err
	}
	frame := geospatial.NewFrame(p.Center)
	halfW, halfH := float64(w)*p.CellSize/2, float64(h)*p.CellSize/2
	sw := frame.FromLocal(orb.Point{-halfW, -halfH})
	ne := frame.FromLocal(orb.Point{halfW, halfH})
	return domain.BoundingBox{MinLat: sw.Lat, MinLon: sw.Lon, MaxLat: ne.Lat, MaxLon: ne.Lon}, nil
}

// Rasterize draws features into a new grid described by p. The input slice
// is not modified.
func Rasterize(features []domain.ClassifiedFeature, p Params) (*domain.TileGrid, error) {
	w, h, err := p.Dimensions()
	if err != nil {
		return nil, err
	}

	r := &rasterizer{
		grid:  domain.NewTileGrid(w, h, domain.Grass),
		frame: geospatial.NewFrame(p.Center),
		cell:  p.CellSize,
		left:  -float64(w) * p.CellSize / 2,
		top:   float64(h) * p.CellSize / 2,
	}

	ordered := make([]domain.ClassifiedFeature, len(features))
	copy(ordered, features)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	for i := range ordered {
		f := &ordered[i]
		if len(f.Coordinates) == 0 {
			continue
		}
		switch f.Kind {
		case domain.GeometryPoint:
			r.point(f)
		case domain.GeometryLineString:
			r.line(f)
		case domain.GeometryPolygon:
			r.polygon(f)
		}
	}
	return r.grid, nil
}

type rasterizer struct {
	grid  *domain.TileGrid
	frame geospatial.Frame
	cell  float64
	left  float64 // local x of the western grid edge
	top   float64 // local y of the northern grid edge
}

// cellOf maps local meters to a (col, row) index. The result may lie outside
// the grid.
func (r *rasterizer) cellOf(pt orb.Point) (col, row int) {
	return int(math.Floor((pt[0] - r.left) / r.cell)), int(math.Floor((r.top - pt[1]) / r.cell))
}

func (r *rasterizer) cellCenter(col, row int) orb.Point {
	return orb.Point{r.left + (float64(col)+0.5)*r.cell, r.top - (float64(row)+0.5)*r.cell}
}

func (r *rasterizer) write(col, row int, c domain.TerrainCategory, polygon bool) {
	if !r.grid.InBounds(col, row) {
		return
	}
	if canWrite(r.grid.At(col, row), c, polygon) {
		r.grid.Set(col, row, c)
	}
}

func canWrite(current, next domain.TerrainCategory, polygon bool) bool {
	switch {
	case current == domain.Empty || current == domain.Grass:
		return true
	case current == domain.ParkGrass:
		return classify.Priority(next) < classify.Priority(current)
	case polygon && current.IsWater() && next.IsWater():
		return true
	}
	return false
}

func (r *rasterizer) point(f *domain.ClassifiedFeature) {
	col, row := r.cellOf(r.frame.ToLocal(f.Coordinates[0]))
	r.write(col, row, f.Category, false)
}

func (r *rasterizer) line(f *domain.ClassifiedFeature) {
	local := make(orb.LineString, len(f.Coordinates))
	for i, p := range f.Coordinates {
		local[i] = r.frame.ToLocal(p)
	}

	buffer := defaultLineBuffer * r.cell
	if f.Category == domain.RoadMain {
		buffer = mainRoadBuffer * r.cell
	}
	radius := int(math.Ceil(buffer / r.cell))

	for _, pt := range geospatial.Resample(local, r.cell/2) {
		col, row := r.cellOf(pt)
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				if dx*dx+dy*dy <= radius*radius {
					r.write(col+dx, row+dy, f.Category, false)
				}
			}
		}
	}
}

func (r *rasterizer) polygon(f *domain.ClassifiedFeature) {
	ring, ok := closeRing(f.Coordinates)
	if !ok {
		return
	}

	bound := ring.Bound()
	nw := r.frame.ToLocal(domain.GeoPoint{Lat: bound.Max[1], Lon: bound.Min[0]})
	se := r.frame.ToLocal(domain.GeoPoint{Lat: bound.Min[1], Lon: bound.Max[0]})
	minCol, minRow := r.cellOf(nw)
	maxCol, maxRow := r.cellOf(se)

	minCol, maxCol = max(minCol, 0), min(maxCol, r.grid.Width-1)
	minRow, maxRow = max(minRow, 0), min(maxRow, r.grid.Height-1)

	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			center := r.frame.FromLocal(r.cellCenter(col, row))
			if planar.RingContains(ring, orb.Point{center.Lon, center.Lat}) {
				r.write(col, row, f.Category, true)
			}
		}
	}
}

// closeRing converts coordinates to a closed lon/lat ring. Rings with fewer
// than three distinct vertices are rejected. A three-vertex open ring becomes
// a valid four-point closed ring.
func closeRing(coords []domain.GeoPoint) (orb.Ring, bool) {
	ring := make(orb.Ring, 0, len(coords)+1)
	unique := make(map[domain.GeoPoint]struct{}, len(coords))
	for _, p := range coords {
		ring = append(ring, orb.Point{p.Lon, p.Lat})
		unique[p] = struct{}{}
	}
	if len(unique) < 3 {
		return nil, false
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring, true
}
