package grid

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultResolution is the grid step in degrees (~20 km tiles at the equator).
const DefaultResolution = 0.18

// ErrBadID is returned when a grid id string cannot be parsed.
var ErrBadID = errors.New("malformed grid id")

// Cell is the discrete coordinate of one grid tile. Col buckets longitude,
// Row buckets latitude; both are zero-centered (negative west/south).
type Cell struct {
	Col int
	Row int
}

// ID renders the canonical string form used as the store partition key.
func (c Cell) ID() string {
	return fmt.Sprintf("GRID#%d#%d", c.Col, c.Row)
}

// Less orders cells by (Row, Col). Used as the deterministic tie-break when
// two anchors are equidistant from a derived cell.
func (c Cell) Less(o Cell) bool {
	if c.Row != o.Row {
		return c.Row < o.Row
	}
	return c.Col < o.Col
}

// ParseID inverts Cell.ID.
func ParseID(id string) (Cell, error) {
	parts := strings.Split(id, "#")
	if len(parts) != 3 || parts[0] != "GRID" {
		return Cell{}, fmt.Errorf("%w: %q", ErrBadID, id)
	}
	col, err := strconv.Atoi(parts[1])
	if err != nil {
		return Cell{}, fmt.Errorf("%w: %q", ErrBadID, id)
	}
	row, err := strconv.Atoi(parts[2])
	if err != nil {
		return Cell{}, fmt.Errorf("%w: %q", ErrBadID, id)
	}
	return Cell{Col: col, Row: row}, nil
}

// Index buckets coordinates into cells at a fixed resolution. It is pure:
// the build pipeline and the query path must construct it with the same
// resolution or lookups silently diverge, so every stored record carries
// Version and readers compare it before trusting an id.
type Index struct {
	res float64
}

// New returns an Index with the given resolution step in degrees.
// Non-positive resolutions fall back to DefaultResolution.
func New(res float64) Index {
	if res <= 0 {
		res = DefaultResolution
	}
	return Index{res: res}
}

// Resolution returns the grid step in degrees.
func (x Index) Resolution() float64 { return x.res }

// Version identifies the bucketing formula plus resolution. Stored on every
// record; a mismatch at query time means build and query paths disagree.
func (x Index) Version() string {
	return fmt.Sprintf("floor/v1@%g", x.res)
}

// CellOf maps a coordinate to its cell. Latitude is clamped at the poles,
// longitude wraps at the antimeridian. Coordinates exactly on a boundary
// resolve to the higher-indexed side via floor.
func (x Index) CellOf(lat, lon float64) Cell {
	lat = clampLat(lat)
	lon = wrapLon(lon)
	return Cell{
		Col: int(math.Floor(lon / x.res)),
		Row: int(math.Floor(lat / x.res)),
	}
}

// Center returns the representative coordinate of a cell, its centroid.
func (x Index) Center(c Cell) (lat, lon float64) {
	lat = float64(c.Row)*x.res + x.res/2
	lon = float64(c.Col)*x.res + x.res/2
	return lat, lon
}

// CellOfID is a convenience for query paths that already hold an id string.
func (x Index) CellOfID(id string) (Cell, error) {
	return ParseID(id)
}

func clampLat(lat float64) float64 {
	if lat > 90 {
		return 90
	}
	if lat < -90 {
		return -90
	}
	return lat
}

func wrapLon(lon float64) float64 {
	for lon >= 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
