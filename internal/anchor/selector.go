// Package anchor chooses which grid cells get live readings. Roughly 10% of
// the populated cell universe becomes anchors: half by systematic spatial
// stride, half by population top-up, optionally densified on a coarse lattice
// so no derived cell is left far from an anchor.
package anchor

import (
	"math/rand"
	"sort"

	"github.com/gridwx/weather-grid-service/internal/cities"
	"github.com/gridwx/weather-grid-service/internal/grid"
)

// Candidate is one populated grid cell with its representative city, the
// highest-population city that bucketed into the cell.
type Candidate struct {
	Cell grid.Cell
	Lat  float64 // cell center
	Lon  float64
	City cities.City
}

// Universe is the populated cell universe derived from a gazetteer.
type Universe struct {
	// Candidates sorted north to south, then west to east, the traversal
	// order the systematic stride samples over.
	Candidates []Candidate
	// Members lists every gazetteer city per cell, for the name index.
	Members map[grid.Cell][]cities.City
}

// Config controls selection. Both ratios are explicit: the overall anchor
// share is their sum, not a hidden constant.
type Config struct {
	SpatialRatio    float64 // systematic stride pass share of cells
	PopulationRatio float64 // population top-up pass share of cells
	Seed            int64   // seeds the stride offset; fixed seed, fixed output
	LatticeStride   int     // every Nth row/col forced to anchor; 0 disables
}

// DefaultConfig mirrors the production dataset build: 5% + 5%.
func DefaultConfig() Config {
	return Config{SpatialRatio: 0.05, PopulationRatio: 0.05, Seed: 1, LatticeStride: 0}
}

// Selection is the outcome of one deterministic selection run.
type Selection struct {
	Universe Universe
	Anchors  map[grid.Cell]bool

	SpatialCount    int
	PopulationCount int
	LatticeCount    int
}

// Ratio reports the achieved anchor share of the candidate universe.
func (s Selection) Ratio() float64 {
	if len(s.Universe.Candidates) == 0 {
		return 0
	}
	return float64(len(s.Anchors)) / float64(len(s.Universe.Candidates))
}

// BuildUniverse buckets cities into cells. Collisions keep the
// highest-population city as the cell representative; every city is retained
// in Members.
func BuildUniverse(idx grid.Index, list []cities.City) Universe {
	reps := make(map[grid.Cell]cities.City)
	members := make(map[grid.Cell][]cities.City)
	for _, c := range list {
		cell := idx.CellOf(c.Lat, c.Lon)
		members[cell] = append(members[cell], c)
		cur, ok := reps[cell]
		if !ok || c.Population > cur.Population {
			reps[cell] = c
		}
	}

	cands := make([]Candidate, 0, len(reps))
	for cell, rep := range reps {
		lat, lon := idx.Center(cell)
		cands = append(cands, Candidate{Cell: cell, Lat: lat, Lon: lon, City: rep})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Lat != cands[j].Lat {
			return cands[i].Lat > cands[j].Lat
		}
		if cands[i].Lon != cands[j].Lon {
			return cands[i].Lon < cands[j].Lon
		}
		return cands[i].Cell.Less(cands[j].Cell)
	})
	return Universe{Candidates: cands, Members: members}
}

// Select marks anchors in three deterministic passes: systematic spatial
// stride, population top-up over the remainder, then optional lattice
// densification. The same universe and config always yield the same anchors.
func Select(u Universe, cfg Config) Selection {
	sel := Selection{Universe: u, Anchors: make(map[grid.Cell]bool)}
	n := len(u.Candidates)
	if n == 0 {
		return sel
	}

	if cfg.SpatialRatio > 0 {
		stride := int(1 / cfg.SpatialRatio)
		if stride < 1 {
			stride = 1
		}
		offset := rand.New(rand.NewSource(cfg.Seed)).Intn(stride)
		for i := range u.Candidates {
			if (i-offset)%stride == 0 {
				sel.Anchors[u.Candidates[i].Cell] = true
				sel.SpatialCount++
			}
		}
	}

	if cfg.PopulationRatio > 0 {
		target := int(float64(n) * cfg.PopulationRatio)
		rest := make([]Candidate, 0, n-len(sel.Anchors))
		for _, c := range u.Candidates {
			if !sel.Anchors[c.Cell] {
				rest = append(rest, c)
			}
		}
		sort.Slice(rest, func(i, j int) bool {
			if rest[i].City.Population != rest[j].City.Population {
				return rest[i].City.Population > rest[j].City.Population
			}
			return rest[i].Cell.Less(rest[j].Cell)
		})
		if target > len(rest) {
			target = len(rest)
		}
		for _, c := range rest[:target] {
			sel.Anchors[c.Cell] = true
			sel.PopulationCount++
		}
	}

	if cfg.LatticeStride > 0 {
		for _, c := range u.Candidates {
			if mod(c.Cell.Row, cfg.LatticeStride) == 0 && mod(c.Cell.Col, cfg.LatticeStride) == 0 && !sel.Anchors[c.Cell] {
				sel.Anchors[c.Cell] = true
				sel.LatticeCount++
			}
		}
	}

	return sel
}

// mod is a remainder that stays non-negative for negative cell indices.
func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
