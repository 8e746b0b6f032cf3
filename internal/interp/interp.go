// Package interp assigns readings to derived cells by nearest-anchor lookup.
// Anchors are indexed in an rtree; the tree prunes to a small candidate set
// and exact great-circle distances decide the winner, so per-cell lookups
// stay sub-linear in anchor count even at tens of thousands of anchors.
package interp

import (
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"

	"github.com/gridwx/weather-grid-service/internal/grid"
)

// DefaultCandidates is how many rtree neighbors are re-ranked with exact
// great-circle distance per lookup.
const DefaultCandidates = 8

// Anchor is one cell with a live reading, positioned at its cell center.
type Anchor struct {
	Cell    grid.Cell
	Lat     float64
	Lon     float64
	City    string
	Country string
}

// Match is the nearest anchor for a queried coordinate. Distances are always
// great-circle kilometers; no other metric leaks out of this package.
type Match struct {
	Anchor     Anchor
	DistanceKM float64
}

type anchorNode struct {
	geom.Point
	i int
}

// Index is an immutable nearest-anchor index. Safe for concurrent lookups
// once built.
type Index struct {
	tree       *rtree.Rtree
	anchors    []Anchor
	candidates int
}

// NewIndex builds the anchor index. candidates <= 0 uses DefaultCandidates.
func NewIndex(anchors []Anchor, candidates int) *Index {
	if candidates <= 0 {
		candidates = DefaultCandidates
	}
	tree := rtree.NewTree(25, 50)
	for i, a := range anchors {
		tree.Insert(&anchorNode{Point: geom.Point{X: a.Lon, Y: a.Lat}, i: i})
	}
	return &Index{tree: tree, anchors: anchors, candidates: candidates}
}

// Len returns the anchor count.
func (x *Index) Len() int { return len(x.anchors) }

// Nearest returns the closest anchor to (lat, lon) by great-circle distance,
// ties broken by the lowest grid id. Returns false only for an empty index.
func (x *Index) Nearest(lat, lon float64) (Match, bool) {
	if len(x.anchors) == 0 {
		return Match{}, false
	}

	k := x.candidates
	if k > len(x.anchors) {
		k = len(x.anchors)
	}
	neighbors := x.tree.NearestNeighbors(k, geom.Point{X: lon, Y: lat})

	from := orb.Point{lon, lat}
	var best Match
	found := false
	for _, n := range neighbors {
		node, ok := n.(*anchorNode)
		if !ok || node == nil {
			continue
		}
		a := x.anchors[node.i]
		d := orbgeo.DistanceHaversine(from, orb.Point{a.Lon, a.Lat}) / 1000
		switch {
		case !found, d < best.DistanceKM:
			best = Match{Anchor: a, DistanceKM: d}
			found = true
		case d == best.DistanceKM && a.Cell.Less(best.Anchor.Cell):
			best.Anchor = a
		}
	}
	return best, found
}

// NearestWithin behaves like Nearest but reports false when the closest
// anchor is beyond maxKM. maxKM <= 0 disables the cutoff.
func (x *Index) NearestWithin(lat, lon, maxKM float64) (Match, bool) {
	m, ok := x.Nearest(lat, lon)
	if !ok {
		return Match{}, false
	}
	if maxKM > 0 && m.DistanceKM > maxKM {
		return Match{}, false
	}
	return m, true
}
