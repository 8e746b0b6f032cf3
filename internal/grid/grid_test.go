package grid

import (
	"math"
	"testing"
)

// TestCellOf_Pure verifies that CellOf is deterministic: the same coordinate
// always yields the same cell, including awkward fractional inputs.
func TestCellOf_Pure(t *testing.T) {
	x := New(DefaultResolution)
	coords := [][2]float64{
		{35.6895, 139.6917},
		{-33.8688, 151.2093},
		{0.0001, -0.0001},
		{41.39, 2.17},
	}
	for _, c := range coords {
		a := x.CellOf(c[0], c[1])
		b := x.CellOf(c[0], c[1])
		if a != b {
			t.Errorf("CellOf(%v, %v) not stable: %v vs %v", c[0], c[1], a, b)
		}
	}
}

// TestCenter_WithinTile verifies that Center(CellOf(lat, lon)) falls inside
// the tile boundaries implied by the resolution step.
func TestCenter_WithinTile(t *testing.T) {
	x := New(DefaultResolution)
	coords := [][2]float64{
		{35.6895, 139.6917},
		{-33.8688, 151.2093},
		{10.16, -64.68},
		{41.39, 2.17},
		{-0.01, 0.01},
	}
	for _, c := range coords {
		cell := x.CellOf(c[0], c[1])
		lat, lon := x.Center(cell)
		loLat := float64(cell.Row) * x.Resolution()
		loLon := float64(cell.Col) * x.Resolution()
		if lat < loLat || lat >= loLat+x.Resolution() {
			t.Errorf("center lat %v outside tile [%v, %v)", lat, loLat, loLat+x.Resolution())
		}
		if lon < loLon || lon >= loLon+x.Resolution() {
			t.Errorf("center lon %v outside tile [%v, %v)", lon, loLon, loLon+x.Resolution())
		}
		if x.CellOf(lat, lon) != cell {
			t.Errorf("CellOf(Center(%v)) = %v, want %v", cell, x.CellOf(lat, lon), cell)
		}
	}
}

// TestCellOf_BoundaryFloor verifies that a coordinate exactly on a cell
// boundary resolves deterministically to the floor side.
func TestCellOf_BoundaryFloor(t *testing.T) {
	x := New(0.18)
	c := x.CellOf(0.18, 0.36)
	if c.Row != 1 || c.Col != 2 {
		t.Errorf("boundary coordinate = %+v, want Row=1 Col=2", c)
	}
	c = x.CellOf(-0.18, -0.36)
	if c.Row != -1 || c.Col != -2 {
		t.Errorf("negative boundary coordinate = %+v, want Row=-1 Col=-2", c)
	}
}

// TestCellOf_WrapAndClamp verifies longitude wrapping at the antimeridian
// and latitude clamping at the poles.
func TestCellOf_WrapAndClamp(t *testing.T) {
	x := New(DefaultResolution)

	if got, want := x.CellOf(10, 190), x.CellOf(10, -170); got != want {
		t.Errorf("lon wrap: CellOf(10,190) = %v, want %v", got, want)
	}
	if got, want := x.CellOf(10, 180), x.CellOf(10, -180); got != want {
		t.Errorf("lon wrap at 180: %v, want %v", got, want)
	}
	if got, want := x.CellOf(95, 0), x.CellOf(90, 0); got != want {
		t.Errorf("lat clamp: CellOf(95,0) = %v, want %v", got, want)
	}
	if got, want := x.CellOf(-95, 0), x.CellOf(-90, 0); got != want {
		t.Errorf("lat clamp: CellOf(-95,0) = %v, want %v", got, want)
	}
}

// TestCellOf_BarcelonaDisambiguation verifies that Barcelona (Spain) and
// Barcelona (Venezuela) map to different grid ids.
func TestCellOf_BarcelonaDisambiguation(t *testing.T) {
	x := New(DefaultResolution)
	spain := x.CellOf(41.39, 2.17)
	venezuela := x.CellOf(10.16, -64.68)
	if spain == venezuela {
		t.Fatalf("Barcelona ES and Barcelona VE conflated into %v", spain)
	}
	if spain.ID() == venezuela.ID() {
		t.Fatalf("distinct cells render identical ids: %s", spain.ID())
	}
}

// TestParseID_RoundTrip verifies that ParseID inverts Cell.ID, including
// negative indices.
func TestParseID_RoundTrip(t *testing.T) {
	cells := []Cell{{Col: 0, Row: 0}, {Col: -360, Row: 229}, {Col: 776, Row: -188}}
	for _, c := range cells {
		got, err := ParseID(c.ID())
		if err != nil {
			t.Fatalf("ParseID(%q) error = %v", c.ID(), err)
		}
		if got != c {
			t.Errorf("ParseID(%q) = %v, want %v", c.ID(), got, c)
		}
	}
}

// TestParseID_Malformed verifies that bad ids fail with ErrBadID.
func TestParseID_Malformed(t *testing.T) {
	for _, id := range []string{"", "GRID#1", "CELL#1#2", "GRID#a#2", "GRID#1#b", "GRID#1#2#3"} {
		if _, err := ParseID(id); err == nil {
			t.Errorf("ParseID(%q) error = nil, want ErrBadID", id)
		}
	}
}

// TestVersion_TracksResolution verifies that indexes at different resolutions
// report different formula versions, the signal used to detect build/query
// drift.
func TestVersion_TracksResolution(t *testing.T) {
	if New(0.18).Version() == New(0.25).Version() {
		t.Error("different resolutions share a formula version")
	}
	if New(0.18).Version() != New(0.18).Version() {
		t.Error("same resolution yields unstable version")
	}
}

// TestCellOf_MatchesFloorFormula cross-checks CellOf against the raw floor
// formula for a spread of coordinates.
func TestCellOf_MatchesFloorFormula(t *testing.T) {
	x := New(0.18)
	for lat := -89.9; lat < 90; lat += 17.3 {
		for lon := -179.9; lon < 180; lon += 23.7 {
			got := x.CellOf(lat, lon)
			want := Cell{
				Col: int(math.Floor(lon / 0.18)),
				Row: int(math.Floor(lat / 0.18)),
			}
			if got != want {
				t.Fatalf("CellOf(%v, %v) = %v, want %v", lat, lon, got, want)
			}
		}
	}
}
