package anchor

import (
	"fmt"
	"testing"

	"github.com/gridwx/weather-grid-service/internal/cities"
	"github.com/gridwx/weather-grid-service/internal/grid"
)

// syntheticCities lays out n cities on distinct cells along a diagonal, with
// population increasing by index.
func syntheticCities(n int) []cities.City {
	out := make([]cities.City, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, cities.City{
			Name:       fmt.Sprintf("city-%03d", i),
			Country:    "Testland",
			Lat:        float64(i) * 0.5,
			Lon:        float64(i) * 0.5,
			Population: float64(1000 * (i + 1)),
		})
	}
	return out
}

// TestBuildUniverse_CollisionKeepsLargest verifies that two cities in the
// same cell reduce to one candidate represented by the larger city, while
// Members keeps both.
func TestBuildUniverse_CollisionKeepsLargest(t *testing.T) {
	idx := grid.New(0.18)
	list := []cities.City{
		{Name: "suburb", Lat: 10.01, Lon: 10.01, Population: 5000},
		{Name: "metropolis", Lat: 10.02, Lon: 10.02, Population: 9000000},
	}
	u := BuildUniverse(idx, list)
	if len(u.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(u.Candidates))
	}
	if u.Candidates[0].City.Name != "metropolis" {
		t.Errorf("representative = %q, want metropolis", u.Candidates[0].City.Name)
	}
	if got := len(u.Members[u.Candidates[0].Cell]); got != 2 {
		t.Errorf("members = %d, want 2", got)
	}
}

// TestBuildUniverse_SortedNorthToSouth verifies traversal order: latitude
// descending, then longitude ascending.
func TestBuildUniverse_SortedNorthToSouth(t *testing.T) {
	idx := grid.New(0.18)
	u := BuildUniverse(idx, syntheticCities(40))
	for i := 1; i < len(u.Candidates); i++ {
		prev, cur := u.Candidates[i-1], u.Candidates[i]
		if cur.Lat > prev.Lat {
			t.Fatalf("candidates not sorted north to south at %d: %v after %v", i, cur.Lat, prev.Lat)
		}
	}
}

// TestSelect_Deterministic verifies that the same universe and seed always
// select the same anchor set, and a different seed may shift the stride.
func TestSelect_Deterministic(t *testing.T) {
	idx := grid.New(0.18)
	u := BuildUniverse(idx, syntheticCities(100))
	cfg := DefaultConfig()

	a := Select(u, cfg)
	b := Select(u, cfg)
	if len(a.Anchors) != len(b.Anchors) {
		t.Fatalf("anchor counts differ across runs: %d vs %d", len(a.Anchors), len(b.Anchors))
	}
	for cell := range a.Anchors {
		if !b.Anchors[cell] {
			t.Fatalf("anchor %v missing from second run", cell)
		}
	}
}

// TestSelect_RatioNearTarget verifies the achieved ratio lands near the sum
// of the configured pass ratios.
func TestSelect_RatioNearTarget(t *testing.T) {
	idx := grid.New(0.18)
	u := BuildUniverse(idx, syntheticCities(200))
	sel := Select(u, DefaultConfig())

	ratio := sel.Ratio()
	if ratio < 0.08 || ratio > 0.12 {
		t.Errorf("achieved ratio = %v, want ~0.10", ratio)
	}
	if sel.SpatialCount == 0 || sel.PopulationCount == 0 {
		t.Errorf("expected both passes to contribute, got spatial=%d population=%d",
			sel.SpatialCount, sel.PopulationCount)
	}
}

// TestSelect_PopulationTopUpPrefersLargest verifies pass 2 picks the most
// populated non-anchor cells first.
func TestSelect_PopulationTopUpPrefersLargest(t *testing.T) {
	idx := grid.New(0.18)
	u := BuildUniverse(idx, syntheticCities(100))
	sel := Select(u, Config{SpatialRatio: 0, PopulationRatio: 0.05, Seed: 1})

	if sel.PopulationCount != 5 {
		t.Fatalf("population pass selected %d, want 5", sel.PopulationCount)
	}
	// the 5 largest populations are the last 5 synthetic cities
	for i := 95; i < 100; i++ {
		cell := idx.CellOf(float64(i)*0.5, float64(i)*0.5)
		if !sel.Anchors[cell] {
			t.Errorf("most-populated cell %v not selected", cell)
		}
	}
}

// TestSelect_LatticeDensification verifies the lattice pass anchors every
// Nth row/col cell, including cells with negative indices.
func TestSelect_LatticeDensification(t *testing.T) {
	idx := grid.New(0.18)
	list := []cities.City{
		{Name: "a", Lat: 0.09, Lon: 0.09, Population: 1},    // cell (0,0)
		{Name: "b", Lat: 0.09, Lon: 0.27, Population: 1},    // cell (1,0)
		{Name: "c", Lat: -0.72, Lon: -0.72, Population: 1},  // cell (-4,-4)
		{Name: "d", Lat: 0.09, Lon: 0.81, Population: 1},    // cell (4,0)
	}
	u := BuildUniverse(idx, list)
	sel := Select(u, Config{LatticeStride: 4, Seed: 1})

	if sel.LatticeCount != 3 {
		t.Fatalf("lattice selected %d, want 3 (cells on the stride-4 lattice)", sel.LatticeCount)
	}
	if sel.Anchors[idx.CellOf(0.09, 0.27)] {
		t.Error("off-lattice cell selected by lattice pass")
	}
}
