package overpass

import (
	"fmt"
	"strings"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// FilterTags is the whitelist of tag keys requested from the server.
var FilterTags = []string{"building", "highway", "landuse", "natural", "waterway", "water", "amenity", "leisure"}

// BuildQuery returns an Overpass QL query for every whitelisted way and
// relation inside bbox, plus tagged amenity nodes. Geometry is returned
// inline so ways need no node lookups.
func BuildQuery(bbox domain.BoundingBox, timeoutSeconds int) string {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 25
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[out:json][timeout:%d][bbox:%.6f,%.6f,%.6f,%.6f];\n(\n",
		timeoutSeconds, bbox.MinLat, bbox.MinLon, bbox.MaxLat, bbox.MaxLon)
	for _, tag := range FilterTags {
		fmt.Fprintf(&sb, "  way[%q];\n", tag)
		fmt.Fprintf(&sb, "  relation[%q];\n", tag)
	}
	sb.WriteString("  node[\"amenity\"];\n);\nout geom;\n")
	return sb.String()
}
