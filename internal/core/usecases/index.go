package usecases

import (
	"sort"

	"github.com/dhconnelly/rtreego"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// minExtent pads zero-width bounds (points, axis-aligned lines); rtreego
// rejects rectangles with a zero side. About 1m of latitude.
const minExtent = 1e-5

// featureIndex is an R-tree over classified features keyed by their
// geographic bounds.
type featureIndex struct {
	tree *rtreego.Rtree
	size int
}

type indexedFeature struct {
	pos     int
	feature domain.ClassifiedFeature
	bounds  domain.BoundingBox
}

// Bounds implements rtreego.Spatial.
func (f *indexedFeature) Bounds() rtreego.Rect {
	return rectOf(f.bounds)
}

func rectOf(b domain.BoundingBox) rtreego.Rect {
	lonLength := max(b.MaxLon-b.MinLon, minExtent)
	latLength := max(b.MaxLat-b.MinLat, minExtent)
	rect, _ := rtreego.NewRect(rtreego.Point{b.MinLon, b.MinLat}, []float64{lonLength, latLength})
	return rect
}

func newFeatureIndex(features []domain.ClassifiedFeature) *featureIndex {
	idx := &featureIndex{tree: rtreego.NewTree(2, 25, 50)}
	for i, f := range features {
		b, ok := domain.BoundsOf(f.Coordinates)
		if !ok {
			continue
		}
		idx.tree.Insert(&indexedFeature{pos: i, feature: f, bounds: b})
		idx.size++
	}
	return idx
}

// Within returns the features whose bounds intersect b, in insertion order
// so rasterization stays deterministic.
func (idx *featureIndex) Within(b domain.BoundingBox) []domain.ClassifiedFeature {
	if idx.size == 0 {
		return nil
	}
	hits := idx.tree.SearchIntersect(rectOf(b))
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].(*indexedFeature).pos < hits[j].(*indexedFeature).pos
	})
	out := make([]domain.ClassifiedFeature, len(hits))
	for i, h := range hits {
		out[i] = h.(*indexedFeature).feature
	}
	return out
}
