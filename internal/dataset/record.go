// Package dataset materializes the final per-cell record set from anchor
// readings plus nearest-anchor interpolation.
package dataset

// Role tags how a record's values were obtained.
type Role string

const (
	// RoleSensor marks values fetched directly from the weather source.
	RoleSensor Role = "sensor"
	// RoleInterpolated marks values copied from the nearest anchor.
	RoleInterpolated Role = "interpolated"
)

// Kind distinguishes record rows sharing a partition key. The values match
// the attribute set the query path filters on.
type Kind string

const (
	KindHourly     Kind = "Hourly"
	KindDaily      Kind = "Daily"
	KindCityLookup Kind = "CityLookup"
)

// Record is one store row. Partition key GridID, sort key Timestamp.
// CityLookup rows use a synthetic sort key so every gazetteer city in a cell
// coexists with the forecast rows.
type Record struct {
	GridID    string `json:"GridID"`
	Timestamp string `json:"Timestamp"`
	Kind      Kind   `json:"Type"`

	LocationName string  `json:"LocationName"`
	Country      string  `json:"Country,omitempty"`
	Lat          float64 `json:"Lat"`
	Lon          float64 `json:"Lon"`
	Population   float64 `json:"Population,omitempty"`

	Role         Role   `json:"Role"`
	SourceGridID string `json:"SourceGridID"`
	SourceCity   string `json:"SourceCity"`

	Temperature   float64 `json:"Temperature"`
	Humidity      float64 `json:"Humidity,omitempty"`
	ChanceOfRain  float64 `json:"ChanceOfRain"`
	Precipitation float64 `json:"Precipitation"`
	WindSpeed     float64 `json:"WindSpeed"`

	// FormulaVersion pins the grid bucketing formula the id was computed
	// with; readers abort on mismatch instead of serving wrong cells.
	FormulaVersion string `json:"FormulaVersion"`
}
