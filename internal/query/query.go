// Package query resolves forecast lookups against the stored dataset. Both
// entry points end at the same place: a grid id whose partition is read,
// version-checked, and folded into a report.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gridwx/weather-grid-service/internal/cache"
	"github.com/gridwx/weather-grid-service/internal/dataset"
	"github.com/gridwx/weather-grid-service/internal/grid"
	"github.com/gridwx/weather-grid-service/internal/observability"
	"github.com/gridwx/weather-grid-service/internal/store"
	"github.com/gridwx/weather-grid-service/internal/validation"
)

// ErrNotFound is returned when no records exist for the requested location.
var ErrNotFound = errors.New("no forecast data for location")

// ErrResolutionMismatch is returned when stored records were bucketed with a
// different grid formula than the one this binary computes ids with. Serving
// such records would silently attach forecasts to the wrong tiles.
var ErrResolutionMismatch = errors.New("grid formula version mismatch")

// Candidate is one possible resolution of an ambiguous city name.
type Candidate struct {
	Name       string  `json:"name"`
	Country    string  `json:"country"`
	GridID     string  `json:"grid_id"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Population float64 `json:"population"`
}

// AmbiguousNameError reports that a name matched more than one city. The
// candidates are ordered most populated first so callers can present a
// sensible disambiguation list. A silent pick is never made.
type AmbiguousNameError struct {
	Name       string
	Candidates []Candidate
}

func (e *AmbiguousNameError) Error() string {
	return fmt.Sprintf("name %q matches %d cities; qualify with a country code", e.Name, len(e.Candidates))
}

// Service resolves lookups using cache-aside over the store. The cache is
// optional; a nil cache disables it.
type Service struct {
	store store.Store
	idx   grid.Index
	cache cache.Cache
	ttl   time.Duration
}

// NewService creates a query service. ttl is the cache expiration for
// resolved reports; ignored when c is nil.
func NewService(st store.Store, idx grid.Index, c cache.Cache, ttl time.Duration) *Service {
	return &Service{store: st, idx: idx, cache: c, ttl: ttl}
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// ByCoords resolves a coordinate pair to its grid cell and returns that
// cell's report. The id is recomputed with the same bucketing the pipeline
// used, so any coordinate inside a tile lands on the tile's records.
func (s *Service) ByCoords(ctx context.Context, lat, lon float64) (dataset.Report, error) {
	cell := s.idx.CellOf(lat, lon)
	observability.RecordQuery(cell.ID())
	return s.byGrid(ctx, cell.ID())
}

// ByName resolves a city name to its grid cell via the name index. An
// optional country code narrows homonyms; "Barcelona,ES" is accepted as
// shorthand for name plus qualifier. More than one surviving match returns
// an AmbiguousNameError rather than guessing.
func (s *Service) ByName(ctx context.Context, name, country string) (dataset.Report, error) {
	name, err := validation.ValidateLocation(name, 1, 100)
	if err != nil {
		return dataset.Report{}, err
	}
	if country == "" {
		name, country = splitQualifier(name)
	}
	observability.RecordQuery(name)

	lookups, err := s.store.LookupsByName(ctx, name)
	if err != nil {
		return dataset.Report{}, fmt.Errorf("lookup %s: %w", name, err)
	}
	if country != "" {
		filtered := lookups[:0]
		for _, l := range lookups {
			if strings.EqualFold(l.Country, country) {
				filtered = append(filtered, l)
			}
		}
		lookups = filtered
	}
	if len(lookups) == 0 {
		return dataset.Report{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if len(lookups) > 1 && !sameCell(lookups) {
		amb := &AmbiguousNameError{Name: name}
		for _, l := range lookups {
			amb.Candidates = append(amb.Candidates, Candidate{
				Name:       l.LocationName,
				Country:    l.Country,
				GridID:     l.GridID,
				Lat:        l.Lat,
				Lon:        l.Lon,
				Population: l.Population,
			})
		}
		return dataset.Report{}, amb
	}
	if logger := loggerFromContext(ctx); logger != nil {
		logger.Debug("name resolved", zap.String("name", name), zap.String("grid_id", lookups[0].GridID))
	}
	return s.byGrid(ctx, lookups[0].GridID)
}

// splitQualifier splits "Name,CC" on the last comma. Returns the input
// unchanged when no comma is present.
func splitQualifier(name string) (string, string) {
	i := strings.LastIndex(name, ",")
	if i < 0 {
		return name, ""
	}
	return strings.TrimSpace(name[:i]), strings.TrimSpace(name[i+1:])
}

// sameCell reports whether every lookup row points at one grid cell. Distinct
// gazetteer entries that share a tile are not ambiguous in practice: they
// resolve to the same report.
func sameCell(lookups []dataset.Record) bool {
	for _, l := range lookups[1:] {
		if l.GridID != lookups[0].GridID {
			return false
		}
	}
	return true
}

// byGrid reads one partition and folds it into a report, cache-aside.
func (s *Service) byGrid(ctx context.Context, gridID string) (dataset.Report, error) {
	logger := loggerFromContext(ctx)

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, gridID)
		if err != nil {
			observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		} else if ok {
			observability.CacheHitsTotal.WithLabelValues("report").Inc()
			if logger != nil {
				logger.Debug("cache hit", zap.String("grid_id", gridID))
			}
			return cached, nil
		}
	}

	recs, err := s.store.RecordsByGrid(ctx, gridID)
	if err != nil {
		return dataset.Report{}, fmt.Errorf("read partition %s: %w", gridID, err)
	}

	report, err := s.fold(gridID, recs)
	if err != nil {
		return dataset.Report{}, err
	}

	if s.cache != nil {
		if setErr := s.cache.Set(ctx, gridID, report, s.ttl); setErr != nil {
			observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
			if logger != nil {
				logger.Warn("cache set failed", zap.String("grid_id", gridID), zap.Error(setErr))
			}
		}
	}
	return report, nil
}

// fold assembles a partition's rows into a report. Returns ErrNotFound when
// the partition has no forecast rows (CityLookup rows alone mean the cell was
// a gap this run).
func (s *Service) fold(gridID string, recs []dataset.Record) (dataset.Report, error) {
	report := dataset.Report{GridID: gridID, GeneratedAt: time.Now().UTC()}
	version := s.idx.Version()
	seenForecast := false

	for _, rec := range recs {
		switch rec.Kind {
		case dataset.KindHourly, dataset.KindDaily:
			if rec.FormulaVersion != version {
				return dataset.Report{}, fmt.Errorf(
					"partition %s written with %q, reader uses %q: %w",
					gridID, rec.FormulaVersion, version, ErrResolutionMismatch)
			}
			if !seenForecast {
				seenForecast = true
				report.Lat = rec.Lat
				report.Lon = rec.Lon
				report.Role = rec.Role
				report.FormulaVersion = rec.FormulaVersion
				if rec.Role == dataset.RoleInterpolated {
					report.SourceGridID = rec.SourceGridID
					report.SourceCity = rec.SourceCity
				}
			}
			if rec.Kind == dataset.KindHourly {
				report.Hourly = append(report.Hourly, rec)
			} else {
				report.Daily = append(report.Daily, rec)
			}
		case dataset.KindCityLookup:
			report.Cities = append(report.Cities, dataset.CityRef{
				Name:       rec.LocationName,
				Country:    rec.Country,
				Population: rec.Population,
			})
		}
	}
	if !seenForecast {
		return dataset.Report{}, fmt.Errorf("%s: %w", gridID, ErrNotFound)
	}
	sort.Slice(report.Cities, func(i, j int) bool {
		if report.Cities[i].Population != report.Cities[j].Population {
			return report.Cities[i].Population > report.Cities[j].Population
		}
		return report.Cities[i].Name < report.Cities[j].Name
	})
	return report, nil
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
