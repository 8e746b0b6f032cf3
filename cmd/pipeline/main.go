package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/gridwx/weather-grid-service/internal/anchor"
	"github.com/gridwx/weather-grid-service/internal/checkpoint"
	"github.com/gridwx/weather-grid-service/internal/circuitbreaker"
	"github.com/gridwx/weather-grid-service/internal/cities"
	"github.com/gridwx/weather-grid-service/internal/config"
	"github.com/gridwx/weather-grid-service/internal/dataset"
	"github.com/gridwx/weather-grid-service/internal/fetch"
	"github.com/gridwx/weather-grid-service/internal/grid"
	"github.com/gridwx/weather-grid-service/internal/observability"
	"github.com/gridwx/weather-grid-service/internal/pipeline"
	"github.com/gridwx/weather-grid-service/internal/store"
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
	logger.Info("gazetteer loaded", zap.String("path", cfg.CitiesPath), zap.String("country", cfg.Country), zap.Int("cities", len(cityList)))

	client, err := fetch.NewOpenMeteoClient(fetch.Options{
		APIURL:            cfg.FetchURL,
		Timeout:           cfg.FetchTimeout,
		ForecastDays:      cfg.ForecastDays,
		RetryAttempts:     cfg.RetryAttempts,
		RetryBaseDelay:    cfg.RetryBaseDelay,
		RetryMaxDelay:     cfg.RetryMaxDelay,
		RequestsPerSecond: cfg.FetchRPS,
	})
	if err != nil {
		logger.Fatal("fetch client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "weather_source",
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.CircuitBreakerState.Set(float64(to))
				logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		client.SetCircuitBreaker(cb)
		observability.CircuitBreakerState.Set(0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	ckpt, err := checkpoint.NewFileStore(cfg.CheckpointPath)
	if err != nil {
		logger.Fatal("checkpoint store", zap.Error(err))
	}
	defer func() { _ = ckpt.Close() }()

	var st store.Store
	switch cfg.StoreBackend {
	case "memory":
		st = store.NewMemoryStore()
		logger.Warn("store backend: memory; the dataset will not survive this process")
	default:
		sqlite, err := store.NewSQLiteStore(cfg.StorePath)
		if err != nil {
			logger.Fatal("sqlite store", zap.Error(err))
		}
		defer func() { _ = sqlite.Close() }()
		st = sqlite
		logger.Info("store backend: sqlite", zap.String("path", cfg.StorePath))
	}

	idx := grid.New(cfg.Resolution)
	runner := pipeline.New(idx, client, ckpt, st, logger, pipeline.Config{
		Anchor: anchor.Config{
			SpatialRatio:    cfg.SpatialRatio,
			PopulationRatio: cfg.PopulationRatio,
			Seed:            cfg.SelectionSeed,
			LatticeStride:   cfg.LatticeStride,
		},
		Materialize: dataset.Config{
			MaxRadiusKM: cfg.MaxRadiusKM,
			Jitter:      cfg.Jitter,
			JitterSeed:  cfg.JitterSeed,
		},
		Candidates: cfg.Candidates,
		BatchSize:  cfg.UploadBatchSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := runner.Run(ctx, cityList)
	if err != nil {
		logger.Error("pipeline interrupted",
			zap.String("phase", sum.Phase.String()),
			zap.Int("fetched", sum.Fetched),
			zap.Int("resumed", sum.Resumed),
			zap.Error(err))
		os.Exit(1)
	}

	// The log is only needed to resume an interrupted run.
	if err := ckpt.Remove(); err != nil {
		logger.Warn("checkpoint cleanup", zap.Error(err))
	}
	logger.Info("dataset build finished",
		zap.Int("anchors", sum.Anchors),
		zap.Int("records", sum.Records),
		zap.Int("uploaded", sum.Uploaded),
		zap.Int("gaps", sum.Gaps),
		zap.Duration("duration", sum.Duration))
}
