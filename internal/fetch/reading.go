package fetch

// Reading is one forecast payload for an anchor coordinate: 7 days of hourly
// and daily series as returned by the Open-Meteo forecast endpoint.
type Reading struct {
	Hourly HourlySeries `json:"hourly"`
	Daily  DailySeries  `json:"daily"`
}

// HourlySeries holds parallel arrays indexed by hour.
type HourlySeries struct {
	Time                     []string  `json:"time"`
	Temperature2M            []float64 `json:"temperature_2m"`
	RelativeHumidity2M       []float64 `json:"relative_humidity_2m"`
	PrecipitationProbability []float64 `json:"precipitation_probability"`
	Precipitation            []float64 `json:"precipitation"`
	WindSpeed10M             []float64 `json:"wind_speed_10m"`
}

// DailySeries holds parallel arrays indexed by day.
type DailySeries struct {
	Time                        []string  `json:"time"`
	Temperature2MMax            []float64 `json:"temperature_2m_max"`
	PrecipitationSum            []float64 `json:"precipitation_sum"`
	PrecipitationProbabilityMax []float64 `json:"precipitation_probability_max"`
	WindSpeed10MMax             []float64 `json:"wind_speed_10m_max"`
}

// Empty reports whether the reading carries no usable series at all.
func (r Reading) Empty() bool {
	return len(r.Hourly.Time) == 0 && len(r.Daily.Time) == 0
}
