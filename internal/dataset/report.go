package dataset

import "time"

// CityRef identifies one city that maps into a grid cell. Reports carry these
// so callers can tell which settlements share the tile they queried.
type CityRef struct {
	Name       string  `json:"name"`
	Country    string  `json:"country"`
	Population float64 `json:"population"`
}

// Report is the query-facing view of one grid cell's forecast: the cell
// identity, how its values were produced, and the hourly and daily records
// stored for it. It lives in this package so the cache layer can store
// reports without depending on the query service.
type Report struct {
	GridID         string    `json:"grid_id"`
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	Role           Role      `json:"role"`
	SourceGridID   string    `json:"source_grid_id,omitempty"`
	SourceCity     string    `json:"source_city,omitempty"`
	FormulaVersion string    `json:"formula_version"`
	Cities         []CityRef `json:"cities,omitempty"`
	Hourly         []Record  `json:"hourly"`
	Daily          []Record  `json:"daily"`
	GeneratedAt    time.Time `json:"generated_at"`
	Stale          bool      `json:"stale,omitempty"`
}
