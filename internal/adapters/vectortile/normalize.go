package vectortile

import (
	"github.com/paulmach/orb/geojson"
)

// transportHighways maps OpenMapTiles transportation classes onto highway
// values the classifier knows. Classes missing here (rail, ferry, aerialway)
// are not roads.
var transportHighways = map[string]string{
	"motorway":  "motorway",
	"trunk":     "trunk",
	"primary":   "primary",
	"secondary": "secondary",
	"tertiary":  "tertiary",
	"minor":     "residential",
	"service":   "service",
	"track":     "unclassified",
	"path":      "path",
}

// Normalize derives OSM-style tags from an OpenMapTiles layer name and
// feature properties. Existing properties are kept and never overwritten.
func Normalize(layer string, props map[string]interface{}) geojson.Properties {
	out := make(geojson.Properties, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	class, _ := props["class"].(string)
	subclass, _ := props["subclass"].(string)

	set := func(k, v string) {
		if _, ok := out[k]; !ok && v != "" {
			out[k] = v
		}
	}

	switch layer {
	case "building":
		set("building", "yes")
	case "transportation":
		if class == "path" && subclass != "" {
			set("highway", subclass)
		} else {
			set("highway", transportHighways[class])
		}
	case "water":
		set("natural", "water")
	case "waterway":
		set("waterway", class)
	case "landcover":
		switch class {
		case "wood", "forest":
			set("natural", "wood")
		case "grass":
			set("landuse", "grass")
		default:
			set("landuse", class)
		}
	case "landuse":
		set("landuse", class)
	case "park":
		set("leisure", "park")
	case "poi":
		switch class {
		case "school", "college":
			set("amenity", "school")
		case "shop", "grocery":
			set("amenity", "shop")
		default:
			if subclass != "" {
				set("amenity", subclass)
			} else {
				set("amenity", class)
			}
		}
	}
	return out
}
