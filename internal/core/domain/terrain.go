package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TerrainCategory is one value of the closed terrain vocabulary a grid cell
// can hold. The zero value is Empty, which never survives a pipeline run.
type TerrainCategory uint8

const (
	Empty TerrainCategory = iota
	Grass
	RoadMain
	RoadSmall
	Path
	House
	Shop
	School
	Factory
	Forest
	ParkGrass
	Water
	River
	Lake
)

var categoryNames = [...]string{
	Empty:     "EMPTY",
	Grass:     "GRASS",
	RoadMain:  "ROAD_MAIN",
	RoadSmall: "ROAD_SMALL",
	Path:      "PATH",
	House:     "HOUSE",
	Shop:      "SHOP",
	School:    "SCHOOL",
	Factory:   "FACTORY",
	Forest:    "FOREST",
	ParkGrass: "PARK_GRASS",
	Water:     "WATER",
	River:     "RIVER",
	Lake:      "LAKE",
}

// Categories lists every assignable category (Empty excluded) in declaration order.
func Categories() []TerrainCategory {
	out := make([]TerrainCategory, 0, len(categoryNames)-1)
	for c := Grass; int(c) < len(categoryNames); c++ {
		out = append(out, c)
	}
	return out
}

func (c TerrainCategory) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("TerrainCategory(%d)", uint8(c))
}

// ParseCategory resolves a category name, case-insensitively.
func ParseCategory(s string) (TerrainCategory, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range categoryNames {
		if name == s && TerrainCategory(i) != Empty {
			return TerrainCategory(i), true
		}
	}
	return Empty, false
}

// IsWater reports whether c belongs to the water family.
func (c TerrainCategory) IsWater() bool {
	return c == Water || c == River || c == Lake
}

// IsRoad reports whether c belongs to the road family.
func (c TerrainCategory) IsRoad() bool {
	return c == RoadMain || c == RoadSmall || c == Path
}

// IsBuilding reports whether c belongs to the building family.
func (c TerrainCategory) IsBuilding() bool {
	return c == House || c == Shop || c == School || c == Factory
}

// IsVegetation reports whether c belongs to the vegetation family.
func (c TerrainCategory) IsVegetation() bool {
	return c == Forest || c == ParkGrass
}

func (c TerrainCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *TerrainCategory) UnmarshalText(b []byte) error {
	v, ok := ParseCategory(string(b))
	if !ok {
		return fmt.Errorf("unknown terrain category %q", string(b))
	}
	*c = v
	return nil
}

// GeometryKind mirrors the vector tile geometry type codes.
type GeometryKind uint8

const (
	GeometryUnknown    GeometryKind = 0
	GeometryPoint      GeometryKind = 1
	GeometryLineString GeometryKind = 2
	GeometryPolygon    GeometryKind = 3
)

func (k GeometryKind) String() string {
	switch k {
	case GeometryPoint:
		return "Point"
	case GeometryLineString:
		return "LineString"
	case GeometryPolygon:
		return "Polygon"
	}
	return "Unknown"
}

// Feature is a tagged geometry in geographic coordinates, as produced by a
// source after decoding and projection.
type Feature struct {
	ID          string            `json:"id,omitempty"`
	Kind        GeometryKind      `json:"kind"`
	Coordinates []GeoPoint        `json:"coordinates"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// ClassifiedFeature is a Feature resolved to a terrain category. It is not
// mutated after classification.
type ClassifiedFeature struct {
	Feature
	Category TerrainCategory `json:"category"`
	Priority int             `json:"priority"`
}

// TileGrid is a fixed-size, row-major grid of terrain categories. Row 0 is
// the northern edge.
type TileGrid struct {
	Width  int
	Height int
	Cells  []TerrainCategory
}

// NewTileGrid allocates a width x height grid filled with fill.
func NewTileGrid(width, height int, fill TerrainCategory) *TileGrid {
	g := &TileGrid{Width: width, Height: height, Cells: make([]TerrainCategory, width*height)}
	if fill != Empty {
		for i := range g.Cells {
			g.Cells[i] = fill
		}
	}
	return g
}

// InBounds reports whether (col, row) addresses a cell.
func (g *TileGrid) InBounds(col, row int) bool {
	return col >= 0 && col < g.Width && row >= 0 && row < g.Height
}

// At returns the category at (col, row), or Empty when out of range.
func (g *TileGrid) At(col, row int) TerrainCategory {
	if !g.InBounds(col, row) {
		return Empty
	}
	return g.Cells[row*g.Width+col]
}

// Set writes c at (col, row). Out-of-range writes are ignored.
func (g *TileGrid) Set(col, row int, c TerrainCategory) {
	if g.InBounds(col, row) {
		g.Cells[row*g.Width+col] = c
	}
}

// Rows returns the grid as nested rows.
func (g *TileGrid) Rows() [][]TerrainCategory {
	rows := make([][]TerrainCategory, g.Height)
	for r := 0; r < g.Height; r++ {
		rows[r] = g.Cells[r*g.Width : (r+1)*g.Width]
	}
	return rows
}

// Counts tallies cells per category.
func (g *TileGrid) Counts() map[TerrainCategory]int {
	counts := make(map[TerrainCategory]int)
	for _, c := range g.Cells {
		counts[c]++
	}
	return counts
}

// Map translates every cell through a renderer-specific table. Categories
// missing from the table resolve to defaultID.
func (g *TileGrid) Map(table map[TerrainCategory]int, defaultID int) [][]int {
	out := make([][]int, g.Height)
	for r := 0; r < g.Height; r++ {
		row := make([]int, g.Width)
		for c := 0; c < g.Width; c++ {
			id, ok := table[g.Cells[r*g.Width+c]]
			if !ok {
				id = defaultID
			}
			row[c] = id
		}
		out[r] = row
	}
	return out
}

var asciiGlyphs = map[TerrainCategory]byte{
	Empty:     ' ',
	Grass:     '.',
	RoadMain:  '=',
	RoadSmall: '-',
	Path:      ':',
	House:     'H',
	Shop:      'S',
	School:    'E',
	Factory:   'F',
	Forest:    'T',
	ParkGrass: ',',
	Water:     '~',
	River:     'r',
	Lake:      'L',
}

// Glyph is the ASCII rune used for c.
func (c TerrainCategory) Glyph() byte {
	if g, ok := asciiGlyphs[c]; ok {
		return g
	}
	return '?'
}

// ASCII renders one glyph per cell, one line per row.
func (g *TileGrid) ASCII() string {
	var sb strings.Builder
	sb.Grow((g.Width + 1) * g.Height)
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			sb.WriteByte(g.Cells[r*g.Width+c].Glyph())
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

type tileGridJSON struct {
	Width  int                 `json:"width"`
	Height int                 `json:"height"`
	Cells  [][]TerrainCategory `json:"cells"`
}

func (g *TileGrid) MarshalJSON() ([]byte, error) {
	return json.Marshal(tileGridJSON{Width: g.Width, Height: g.Height, Cells: g.Rows()})
}

func (g *TileGrid) UnmarshalJSON(b []byte) error {
	var raw tileGridJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw.Cells) != raw.Height {
		return fmt.Errorf("grid has %d rows, want %d", len(raw.Cells), raw.Height)
	}
	cells := make([]TerrainCategory, 0, raw.Width*raw.Height)
	for i, row := range raw.Cells {
		if len(row) != raw.Width {
			return fmt.Errorf("grid row %d has %d cells, want %d", i, len(row), raw.Width)
		}
		cells = append(cells, row...)
	}
	*g = TileGrid{Width: raw.Width, Height: raw.Height, Cells: cells}
	return nil
}

// CacheEntry is one cached payload. Entries are replaced wholesale, never
// mutated.
type CacheEntry struct {
	Key      string
	Payload  []byte
	StoredAt time.Time
}

// Fresh reports whether the entry is younger than ttl at now.
func (e CacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.StoredAt) < ttl
}

// GridGenerated is published after a successful pipeline run.
type GridGenerated struct {
	Region         Region    `json:"region"`
	CellSizeMeters float64   `json:"cell_size_m"`
	Source         string    `json:"source"`
	Features       int       `json:"features"`
	Grid           *TileGrid `json:"grid"`
	GeneratedAt    time.Time `json:"generated_at"`
}
