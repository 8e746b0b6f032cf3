// Package cities loads the worldcities gazetteer CSV that seeds the grid:
// every populated place contributes a candidate cell, and city names feed the
// store's name index.
package cities

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrMissingColumn is returned when the CSV header lacks a required column.
var ErrMissingColumn = errors.New("gazetteer missing column")

// City is one gazetteer row.
type City struct {
	Name       string
	Country    string
	Lat        float64
	Lon        float64
	Population float64
}

// required header columns (worldcities.csv schema).
var requiredColumns = []string{"city_ascii", "lat", "lng", "country"}

// Load reads a worldcities CSV from disk. A non-empty country filters rows to
// that country (exact match on the country column).
func Load(path, country string) ([]City, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gazetteer: %w", err)
	}
	defer f.Close()
	return Read(f, country)
}

// Read parses gazetteer rows from r. Rows with unparseable coordinates are
// skipped; a missing population parses as zero so collision handling still
// has a total order.
func Read(r io.Reader, country string) ([]City, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read gazetteer header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	popIdx, hasPop := col["population"]

	var out []City
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read gazetteer row: %w", err)
		}
		c := City{
			Name:    field(rec, col["city_ascii"]),
			Country: field(rec, col["country"]),
		}
		if country != "" && c.Country != country {
			continue
		}
		c.Lat, err = strconv.ParseFloat(field(rec, col["lat"]), 64)
		if err != nil {
			continue
		}
		c.Lon, err = strconv.ParseFloat(field(rec, col["lng"]), 64)
		if err != nil {
			continue
		}
		if hasPop {
			// population is blank for many small places in the source data
			if p, err := strconv.ParseFloat(field(rec, popIdx), 64); err == nil {
				c.Population = p
			}
		}
		if c.Name == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
