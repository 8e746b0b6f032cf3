package dataset

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"

	"github.com/gridwx/weather-grid-service/internal/anchor"
	"github.com/gridwx/weather-grid-service/internal/cities"
	"github.com/gridwx/weather-grid-service/internal/fetch"
	"github.com/gridwx/weather-grid-service/internal/grid"
	"github.com/gridwx/weather-grid-service/internal/interp"
)

const (
	hourlyHorizon = 24
	dailyHorizon  = 6

	// temperature/wind spread added per km of interpolation distance when
	// jitter is enabled, matching the spread of the source dataset
	jitterPerKM = 0.018
)

// Config controls materialization.
type Config struct {
	// MaxRadiusKM drops cells whose nearest anchor is farther than this;
	// <= 0 disables the cutoff.
	MaxRadiusKM float64
	// Jitter adds deterministic distance-scaled noise to interpolated
	// temperature and wind so derived cells do not mirror their anchor
	// exactly. Seeded per cell from JitterSeed.
	Jitter     bool
	JitterSeed int64
}

// Result is one materialization outcome.
type Result struct {
	Records []Record
	// Gaps counts cells omitted because no anchor was reachable. These are
	// diagnostics, not failures.
	Gaps     int
	GapCells []grid.Cell

	SensorCells  int
	DerivedCells int
}

// Materializer merges anchor readings and interpolation into the final
// record set. Pure between calls; safe to reuse.
type Materializer struct {
	idx grid.Index
	cfg Config
}

// New returns a Materializer over the given grid index.
func New(idx grid.Index, cfg Config) *Materializer {
	return &Materializer{idx: idx, cfg: cfg}
}

// Materialize produces one record set for the populated cell universe.
// readings holds fetched anchor payloads keyed by cell; nn is the immutable
// anchor index built over exactly the cells present in readings. Every cell
// gets its value from its nearest fetched anchor; a cell whose nearest anchor
// is itself is a sensor cell, everything else is interpolated and records the
// anchor that supplied it.
func (m *Materializer) Materialize(sel anchor.Selection, readings map[grid.Cell]fetch.Reading, nn *interp.Index) Result {
	var res Result
	version := m.idx.Version()

	for _, cand := range sel.Universe.Candidates {
		match, ok := nn.NearestWithin(cand.Lat, cand.Lon, m.cfg.MaxRadiusKM)
		if !ok {
			res.Gaps++
			res.GapCells = append(res.GapCells, cand.Cell)
			continue
		}

		reading, ok := readings[match.Anchor.Cell]
		if !ok {
			// the index and readings disagree; treat as a gap rather
			// than emitting a null reading
			res.Gaps++
			res.GapCells = append(res.GapCells, cand.Cell)
			continue
		}

		role := RoleInterpolated
		if match.Anchor.Cell == cand.Cell {
			role = RoleSensor
			res.SensorCells++
		} else {
			res.DerivedCells++
		}

		noise := 0.0
		if role == RoleInterpolated && m.cfg.Jitter {
			noise = m.noiseFor(cand.Cell, match.DistanceKM)
		}

		base := Record{
			GridID:         cand.Cell.ID(),
			LocationName:   cand.City.Name,
			Country:        cand.City.Country,
			Lat:            cand.Lat,
			Lon:            cand.Lon,
			Role:           role,
			SourceGridID:   match.Anchor.Cell.ID(),
			SourceCity:     match.Anchor.City,
			FormulaVersion: version,
		}

		res.Records = append(res.Records, m.hourlyRecords(base, reading, noise)...)
		res.Records = append(res.Records, m.dailyRecords(base, reading, noise)...)
		res.Records = append(res.Records, m.lookupRecords(base, sel.Universe.Members[cand.Cell])...)
	}

	sortRecords(res.Records)
	return res
}

func (m *Materializer) hourlyRecords(base Record, r fetch.Reading, noise float64) []Record {
	n := len(r.Hourly.Time)
	if n > hourlyHorizon {
		n = hourlyHorizon
	}
	out := make([]Record, 0, n)
	for h := 0; h < n; h++ {
		rec := base
		rec.Kind = KindHourly
		rec.Timestamp = r.Hourly.Time[h]
		rec.Temperature = round1(at(r.Hourly.Temperature2M, h) + noise)
		rec.Humidity = at(r.Hourly.RelativeHumidity2M, h)
		rec.ChanceOfRain = at(r.Hourly.PrecipitationProbability, h)
		rec.Precipitation = at(r.Hourly.Precipitation, h)
		rec.WindSpeed = round1(math.Max(0, at(r.Hourly.WindSpeed10M, h)+noise))
		out = append(out, rec)
	}
	return out
}

func (m *Materializer) dailyRecords(base Record, r fetch.Reading, noise float64) []Record {
	// day 0 is covered by the hourly series; emit the remaining horizon
	out := make([]Record, 0, dailyHorizon)
	for d := 1; d < len(r.Daily.Time) && d <= dailyHorizon; d++ {
		rec := base
		rec.Kind = KindDaily
		rec.Timestamp = r.Daily.Time[d] + "T12:00:00"
		rec.Temperature = round1(at(r.Daily.Temperature2MMax, d) + noise)
		rec.ChanceOfRain = at(r.Daily.PrecipitationProbabilityMax, d)
		rec.Precipitation = at(r.Daily.PrecipitationSum, d)
		rec.WindSpeed = round1(math.Max(0, at(r.Daily.WindSpeed10MMax, d)+noise))
		out = append(out, rec)
	}
	return out
}

// lookupRecords emits one CityLookup row per gazetteer city in the cell so
// the name index can resolve any of them back to this grid id.
func (m *Materializer) lookupRecords(base Record, members []cities.City) []Record {
	out := make([]Record, 0, len(members))
	for _, c := range members {
		rec := base
		rec.Kind = KindCityLookup
		rec.Timestamp = fmt.Sprintf("CITY#%s#%s", c.Name, c.Country)
		rec.LocationName = c.Name
		rec.Country = c.Country
		rec.Population = c.Population
		out = append(out, rec)
	}
	return out
}

// noiseFor derives a deterministic per-cell perturbation: same seed, same
// cell, same noise on every run.
func (m *Materializer) noiseFor(cell grid.Cell, distKM float64) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(cell.ID()))
	rng := rand.New(rand.NewSource(m.cfg.JitterSeed ^ int64(h.Sum64())))
	return rng.NormFloat64()*0.5 + distKM*jitterPerKM*(rng.Float64()*2-1)
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].GridID != recs[j].GridID {
			return recs[i].GridID < recs[j].GridID
		}
		if recs[i].Kind != recs[j].Kind {
			return recs[i].Kind < recs[j].Kind
		}
		if recs[i].Timestamp != recs[j].Timestamp {
			return recs[i].Timestamp < recs[j].Timestamp
		}
		return recs[i].LocationName < recs[j].LocationName
	})
}

func at(vals []float64, i int) float64 {
	if i < 0 || i >= len(vals) {
		return 0
	}
	return vals[i]
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
