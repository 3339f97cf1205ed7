// Package classify maps tagged map geometry onto the terrain vocabulary.
//
// Classification is total: every tag set resolves to exactly one category,
// with Grass as the fallback. Rules are evaluated in order and the first match
// wins.
package classify

import (
	"github.com/samirrijal/terragrid/internal/core/domain"
)

// Render priorities. Lower values win conflicts in the rasterizer.
const (
	PriorityWater      = 0
	PriorityRoad       = 1
	PriorityBuilding   = 2
	PriorityVegetation = 3
	PriorityGrass      = 4
	PriorityEmpty      = 5
)

// renderableKeys are the tag keys a feature needs at least one of to be drawn.
var renderableKeys = []string{"building", "highway", "natural", "waterway", "landuse", "amenity", "leisure"}

var (
	mainRoads  = set("residential", "primary", "secondary", "tertiary", "trunk", "motorway")
	smallRoads = set("service", "unclassified")
	paths      = set("footway", "path", "cycleway", "pedestrian")
	parkLand   = set("park", "grass", "meadow")
)

// Classify resolves a tag set and geometry kind to a terrain category.
func Classify(tags map[string]string, kind domain.GeometryKind) domain.TerrainCategory {
	if v, ok := tags["building"]; ok {
		switch v {
		case "commercial", "retail":
			return domain.Shop
		case "industrial", "warehouse":
			return domain.Factory
		case "school", "university":
			return domain.School
		}
		return domain.House
	}

	if v, ok := tags["highway"]; ok {
		switch {
		case mainRoads[v]:
			return domain.RoadMain
		case smallRoads[v]:
			return domain.RoadSmall
		case paths[v]:
			return domain.Path
		}
		return domain.RoadMain
	}

	waterway, hasWaterway := tags["waterway"]
	naturalWater := tags["natural"] == "water"
	if naturalWater || hasWaterway {
		switch {
		case waterway == "river" || waterway == "stream":
			return domain.River
		case naturalWater && kind == domain.GeometryPolygon:
			return domain.Lake
		}
		return domain.Water
	}

	if tags["natural"] == "wood" || tags["landuse"] == "forest" {
		return domain.Forest
	}

	if parkLand[tags["landuse"]] || tags["leisure"] == "park" {
		return domain.ParkGrass
	}

	if v, ok := tags["amenity"]; ok {
		switch v {
		case "school", "university":
			return domain.School
		case "shop", "marketplace":
			return domain.Shop
		}
		return domain.House
	}

	if _, ok := tags["leisure"]; ok {
		return domain.ParkGrass
	}

	return domain.Grass
}

// Priority returns the render priority of a category.
func Priority(c domain.TerrainCategory) int {
	switch {
	case c.IsWater():
		return PriorityWater
	case c.IsRoad():
		return PriorityRoad
	case c.IsBuilding():
		return PriorityBuilding
	case c.IsVegetation():
		return PriorityVegetation
	case c == domain.Grass:
		return PriorityGrass
	}
	return PriorityEmpty
}

// IsRenderable reports whether f carries any tag the classifier understands.
// Features failing this check never reach the rasterizer.
func IsRenderable(f domain.Feature) bool {
	for _, k := range renderableKeys {
		if _, ok := f.Tags[k]; ok {
			return true
		}
	}
	return false
}

// Feature classifies f. The feature itself is copied, not modified.
func Feature(f domain.Feature) domain.ClassifiedFeature {
	c := Classify(f.Tags, f.Kind)
	return domain.ClassifiedFeature{Feature: f, Category: c, Priority: Priority(c)}
}

// Renderable classifies every renderable feature in fs, dropping the rest.
func Renderable(fs []domain.Feature) []domain.ClassifiedFeature {
	out := make([]domain.ClassifiedFeature, 0, len(fs))
	for _, f := range fs {
		if IsRenderable(f) {
			out = append(out, Feature(f))
		}
	}
	return out
}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}
