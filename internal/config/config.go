package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds pipeline and server configuration loaded from YAML and env.
type Config struct {
	// Grid and anchor selection.
	Resolution      float64
	CitiesPath      string
	Country         string
	SpatialRatio    float64
	PopulationRatio float64
	SelectionSeed   int64
	LatticeStride   int

	// Interpolation and materialization.
	MaxRadiusKM float64
	Candidates  int
	Jitter      bool
	JitterSeed  int64

	// Upstream fetch.
	FetchURL       string
	FetchTimeout   time.Duration
	ForecastDays   int
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	FetchRPS       float64

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	// Checkpointing and upload.
	CheckpointPath  string
	UploadBatchSize int

	// Store.
	StoreBackend string // "sqlite" or "memory"
	StorePath    string

	// Server.
	ServerPort     string
	RequestTimeout time.Duration
	CacheTTL       time.Duration
	CacheBackend   string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	TrackedLocations []string
	WarmCache        bool
	WarmInterval     time.Duration
}

type fileConfig struct {
	Grid struct {
		Resolution float64 `yaml:"resolution"`
	} `yaml:"grid"`

	Cities struct {
		Path    string `yaml:"path"`
		Country string `yaml:"country"`
	} `yaml:"cities"`

	Anchors struct {
		SpatialRatio    float64 `yaml:"spatial_ratio"`
		PopulationRatio float64 `yaml:"population_ratio"`
		Seed            int64   `yaml:"seed"`
		LatticeStride   int     `yaml:"lattice_stride"`
	} `yaml:"anchors"`

	Interpolation struct {
		MaxRadiusKM float64 `yaml:"max_radius_km"`
		Candidates  int     `yaml:"candidates"`
		Jitter      *bool   `yaml:"jitter"`
		JitterSeed  int64   `yaml:"jitter_seed"`
	} `yaml:"interpolation"`

	Fetch struct {
		URL              string  `yaml:"url"`
		Timeout          string  `yaml:"timeout"`
		ForecastDays     int     `yaml:"forecast_days"`
		RetryMaxAttempts int     `yaml:"retry_max_attempts"`
		RetryBaseDelay   string  `yaml:"retry_base_delay"`
		RetryMaxDelay    string  `yaml:"retry_max_delay"`
		RequestsPerSec   float64 `yaml:"requests_per_second"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"fetch"`

	Checkpoint struct {
		Path string `yaml:"path"`
	} `yaml:"checkpoint"`

	Upload struct {
		BatchSize int `yaml:"batch_size"`
	} `yaml:"upload"`

	Store struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"store"`

	Server struct {
		Port    string `yaml:"port"`
		Timeout string `yaml:"timeout"`
	} `yaml:"server"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Warm         *bool  `yaml:"warm"`
		WarmInterval string `yaml:"warm_interval"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev). The
// Open-Meteo API is keyless, so there is no secrets file. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.Resolution = fc.Grid.Resolution
	if cfg.Resolution <= 0 {
		cfg.Resolution = 0.18
	}

	cfg.CitiesPath = strings.TrimSpace(os.Getenv("CITIES_PATH"))
	if cfg.CitiesPath == "" {
		cfg.CitiesPath = fc.Cities.Path
	}
	if cfg.CitiesPath == "" {
		cfg.CitiesPath = "data/worldcities.csv"
	}
	cfg.Country = strings.TrimSpace(os.Getenv("TARGET_COUNTRY"))
	if cfg.Country == "" {
		cfg.Country = strings.TrimSpace(fc.Cities.Country)
	}

	cfg.SpatialRatio = fc.Anchors.SpatialRatio
	if cfg.SpatialRatio <= 0 {
		cfg.SpatialRatio = 0.05
	}
	cfg.PopulationRatio = fc.Anchors.PopulationRatio
	if cfg.PopulationRatio <= 0 {
		cfg.PopulationRatio = 0.05
	}
	cfg.SelectionSeed = fc.Anchors.Seed
	if cfg.SelectionSeed == 0 {
		cfg.SelectionSeed = 1
	}
	cfg.LatticeStride = fc.Anchors.LatticeStride

	cfg.MaxRadiusKM = fc.Interpolation.MaxRadiusKM
	cfg.Candidates = fc.Interpolation.Candidates
	if cfg.Candidates <= 0 {
		cfg.Candidates = 8
	}
	if fc.Interpolation.Jitter != nil {
		cfg.Jitter = *fc.Interpolation.Jitter
	}
	cfg.JitterSeed = fc.Interpolation.JitterSeed

	cfg.FetchURL = fc.Fetch.URL
	if cfg.FetchURL == "" {
		cfg.FetchURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.FetchTimeout = parseDuration(fc.Fetch.Timeout, 10*time.Second)
	cfg.ForecastDays = fc.Fetch.ForecastDays
	if cfg.ForecastDays <= 0 {
		cfg.ForecastDays = 7
	}
	cfg.RetryAttempts = fc.Fetch.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Fetch.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Fetch.RetryMaxDelay, 2*time.Second)
	cfg.FetchRPS = fc.Fetch.RequestsPerSec
	if cfg.FetchRPS <= 0 {
		cfg.FetchRPS = 1
	}
	cfg.CircuitBreakerEnabled = true
	if fc.Fetch.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Fetch.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = fc.Fetch.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = fc.Fetch.CircuitBreaker.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.Fetch.CircuitBreaker.Timeout, 30*time.Second)

	cfg.CheckpointPath = strings.TrimSpace(os.Getenv("CHECKPOINT_PATH"))
	if cfg.CheckpointPath == "" {
		cfg.CheckpointPath = fc.Checkpoint.Path
	}
	if cfg.CheckpointPath == "" {
		cfg.CheckpointPath = "data/fetch.checkpoint"
	}
	cfg.UploadBatchSize = fc.Upload.BatchSize
	if cfg.UploadBatchSize <= 0 {
		cfg.UploadBatchSize = 25
	}

	cfg.StoreBackend = strings.TrimSpace(strings.ToLower(os.Getenv("STORE_BACKEND")))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = strings.TrimSpace(strings.ToLower(fc.Store.Backend))
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "sqlite"
	}
	cfg.StorePath = strings.TrimSpace(os.Getenv("STORE_PATH"))
	if cfg.StorePath == "" {
		cfg.StorePath = fc.Store.Path
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "data/weather.db"
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Server.Timeout, 5*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	if fc.Cache.Warm != nil {
		cfg.WarmCache = *fc.Cache.Warm
	}
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.TrackedLocations = fc.Metrics.TrackedLocations

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Ensures anchor ratios stay in (0,1] and sum below 1, and that backends are
// known values. Bumps the server request timeout when it is implausibly low.
func validate(cfg *Config) error {
	if cfg.SpatialRatio > 1 || cfg.PopulationRatio > 1 {
		return fmt.Errorf("anchor ratios must be in (0,1], got spatial=%g population=%g", cfg.SpatialRatio, cfg.PopulationRatio)
	}
	if cfg.SpatialRatio+cfg.PopulationRatio > 1 {
		return fmt.Errorf("anchor ratios sum to %g, must not exceed 1", cfg.SpatialRatio+cfg.PopulationRatio)
	}
	switch cfg.StoreBackend {
	case "sqlite", "memory":
		// valid
	default:
		return fmt.Errorf("store.backend must be sqlite or memory, got %q", cfg.StoreBackend)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.RequestTimeout < time.Second {
		cfg.RequestTimeout = 5 * time.Second
	}
	return nil
}
