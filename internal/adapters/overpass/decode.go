package overpass

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/pkg/geospatial"
)

// response is the subset of the Overpass JSON output the pipeline reads.
type response struct {
	Remark   string    `json:"remark,omitempty"`
	Elements []element `json:"elements"`
}

type element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      *float64          `json:"lat,omitempty"`
	Lon      *float64          `json:"lon,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Nodes    []int64           `json:"nodes,omitempty"`
	Geometry []*latLon         `json:"geometry,omitempty"`
	Members  []member          `json:"members,omitempty"`
}

type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// member is decoded so relations parse cleanly. Relations are not turned
// into geometry.
type member struct {
	Type string `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role"`
}

// hasAreaTag reports tags that force polygon treatment regardless of
// closedness.
func hasAreaTag(tags map[string]string) bool {
	_, building := tags["building"]
	_, landuse := tags["landuse"]
	return building || landuse || tags["natural"] == "water"
}

// Decode converts an Overpass JSON response into GeoJSON features with
// geographic coordinates. Nodes referenced by id are resolved through the
// nodes present in the same response; unresolved references are dropped.
//
// A way becomes a polygon when it is closed, carries an area tag
// (building, landuse, natural=water), or has no waterway tag. The last rule
// makes polygons the default: only open waterways stay lines. Polygon rings
// are closed by appending their first coordinate.
func Decode(body []byte) (*geojson.FeatureCollection, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: overpass response: %v", domain.ErrDecodeDegraded, err)
	}
	if len(resp.Elements) == 0 && strings.Contains(resp.Remark, "error") {
		return nil, fmt.Errorf("%w: overpass remark: %s", domain.ErrDecodeDegraded, resp.Remark)
	}

	nodes := make(map[int64]orb.Point)
	for _, el := range resp.Elements {
		if el.Type == "node" && el.Lat != nil && el.Lon != nil {
			nodes[el.ID] = orb.Point{*el.Lon, *el.Lat}
		}
	}

	fc := geojson.NewFeatureCollection()
	for _, el := range resp.Elements {
		var geom orb.Geometry
		switch el.Type {
		case "node":
			if len(el.Tags) == 0 || el.Lat == nil || el.Lon == nil {
				continue
			}
			geom = orb.Point{*el.Lon, *el.Lat}
		case "way":
			geom = wayGeometry(el, nodes)
		default:
			continue
		}
		if geom == nil {
			continue
		}

		f := geojson.NewFeature(geom)
		f.ID = el.Type + "/" + strconv.FormatInt(el.ID, 10)
		for k, v := range el.Tags {
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	return fc, nil
}

func wayGeometry(el element, nodes map[int64]orb.Point) orb.Geometry {
	var line orb.LineString
	if len(el.Geometry) > 0 {
		for _, ll := range el.Geometry {
			if ll != nil {
				line = append(line, orb.Point{ll.Lon, ll.Lat})
			}
		}
	} else {
		for _, id := range el.Nodes {
			if p, ok := nodes[id]; ok {
				line = append(line, p)
			}
		}
	}
	if len(line) < 2 {
		return nil
	}

	closed := line[0] == line[len(line)-1]
	_, waterway := el.Tags["waterway"]
	polygon := closed || hasAreaTag(el.Tags) || !waterway
	if !polygon || len(line) < 3 {
		return line
	}

	ring := orb.Ring(line)
	if !closed {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// DecodeFeatures is Decode followed by conversion to domain features.
func DecodeFeatures(body []byte) ([]domain.Feature, error) {
	fc, err := Decode(body)
	if err != nil {
		return nil, err
	}
	return geospatial.FromGeoJSON(fc), nil
}
