// Command gridplan reports, without fetching anything, how large a dataset
// build would be: populated cells, projected anchors, and whether the fetch
// fits the weather provider's free-tier quota.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/gridwx/weather-grid-service/internal/anchor"
	"github.com/gridwx/weather-grid-service/internal/cities"
	"github.com/gridwx/weather-grid-service/internal/config"
	"github.com/gridwx/weather-grid-service/internal/grid"
	"github.com/gridwx/weather-grid-service/internal/observability"
)

// Open-Meteo free-tier limits.
const (
	dailyQuota  = 10000
	hourlyQuota = 5000
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	cityList, err := cities.Load(cfg.CitiesPath, cfg.Country)
	if err != nil {
		logger.Fatal("load cities", zap.Error(err))
	}

	idx := grid.New(cfg.Resolution)
	universe := anchor.BuildUniverse(idx, cityList)
	sel := anchor.Select(universe, anchor.Config{
		SpatialRatio:    cfg.SpatialRatio,
		PopulationRatio: cfg.PopulationRatio,
		Seed:            cfg.SelectionSeed,
		LatticeStride:   cfg.LatticeStride,
	})

	anchors := len(sel.Anchors)
	fmt.Printf("gazetteer:        %d cities (%s)\n", len(cityList), cfg.CitiesPath)
	fmt.Printf("grid resolution:  %g degrees (%s)\n", cfg.Resolution, idx.Version())
	fmt.Printf("populated cells:  %d\n", len(universe.Candidates))
	fmt.Printf("anchors:          %d (%.1f%% of cells; spatial %d, population %d, lattice %d)\n",
		anchors, sel.Ratio()*100, sel.SpatialCount, sel.PopulationCount, sel.LatticeCount)
	fmt.Printf("fetch calls:      %d (one forecast per anchor)\n", anchors)

	perHour := anchors
	if cfg.FetchRPS > 0 {
		if paced := int(cfg.FetchRPS * 3600); paced < perHour {
			perHour = paced
		}
		fmt.Printf("pacing:           %.2f req/s, full fetch in ~%.1f min\n",
			cfg.FetchRPS, float64(anchors)/cfg.FetchRPS/60)
	}

	ok := true
	if anchors > dailyQuota {
		fmt.Printf("QUOTA EXCEEDED:   %d calls over the %d/day limit\n", anchors, dailyQuota)
		ok = false
	}
	if perHour > hourlyQuota {
		fmt.Printf("QUOTA EXCEEDED:   %d calls/hour over the %d/hour limit; lower fetch rps\n", perHour, hourlyQuota)
		ok = false
	}
	if ok {
		fmt.Printf("quota:            within %d/day and %d/hour limits\n", dailyQuota, hourlyQuota)
	}
	if !ok {
		os.Exit(1)
	}
}
