package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Open-Meteo API call rate by status. Watch for: error vs success ratio.
	FetchCallsTotal *prometheus.CounterVec

	// Open-Meteo API latency per request. Watch for: p95 > 2s (upstream degradation).
	FetchDuration *prometheus.HistogramVec

	// Retry attempts for forecast fetches. Watch for: high retries = unstable upstream.
	FetchRetriesTotal prometheus.Counter

	// Anchors fetched during a pipeline run.
	AnchorsFetchedTotal prometheus.Counter

	// Anchors skipped because the checkpoint already had their reading.
	AnchorsResumedTotal prometheus.Counter

	// Anchors dropped after exhausting retries, by error category.
	AnchorFailuresTotal *prometheus.CounterVec

	// Cells left without data because no anchor was within the search radius.
	InterpolationGapsTotal prometheus.Counter

	// Records produced by materialization, by record kind.
	RecordsMaterializedTotal *prometheus.CounterVec

	// Records written to the store.
	RecordsUploadedTotal prometheus.Counter

	// Cache hits. Hit rate = hits/(hits+queries).
	CacheHitsTotal *prometheus.CounterVec

	// Cache backend failures by operation and category.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache warming runs, duration, and failures.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram
	CacheWarmingErrorsTotal     prometheus.Counter

	// Total forecast lookups. Watch for: traffic volume, rate() for QPS.
	QueriesTotal prometheus.Counter

	// Per-location query count (allow-list; others go to "other").
	QueriesByLocationTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state for the upstream fetcher (0 closed, 1 half-open, 2 open).
	CircuitBreakerState prometheus.Gauge

	// trackedLocations is built from config; used to resolve location for metrics.
	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	FetchCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastFetchCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"status"},
	)
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecastFetchDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	FetchRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastFetchRetriesTotal",
			Help: "Total number of retry attempts for forecast fetches",
		},
	)
	AnchorsFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anchorsFetchedTotal",
			Help: "Anchor cells fetched from the upstream API this run",
		},
	)
	AnchorsResumedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anchorsResumedTotal",
			Help: "Anchor cells restored from the checkpoint instead of refetched",
		},
	)
	AnchorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorFailuresTotal",
			Help: "Anchor cells dropped after exhausting retries",
		},
		[]string{"category"},
	)
	InterpolationGapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "interpolationGapsTotal",
			Help: "Cells with no anchor inside the search radius",
		},
	)
	RecordsMaterializedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordsMaterializedTotal",
			Help: "Dataset records produced by materialization",
		},
		[]string{"kind"},
	)
	RecordsUploadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recordsUploadedTotal",
			Help: "Dataset records written to the store",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend failures by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs started",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Duration of cache warming runs in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs that finished with errors",
		},
	)
	QueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastQueriesTotal",
			Help: "Total number of forecast lookups",
		},
	)
	QueriesByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastQueriesByLocationTotal",
			Help: "Forecast queries by location (allow-list; others use location=other)",
		},
		[]string{"location"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetchCircuitBreakerState",
			Help: "Circuit breaker state for the upstream fetcher (0 closed, 1 half-open, 2 open)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		FetchCallsTotal, FetchDuration, FetchRetriesTotal,
		AnchorsFetchedTotal, AnchorsResumedTotal, AnchorFailuresTotal,
		InterpolationGapsTotal, RecordsMaterializedTotal, RecordsUploadedTotal,
		CacheHitsTotal, CacheErrorsTotal,
		CacheWarmingTotal, CacheWarmingDurationSeconds, CacheWarmingErrorsTotal,
		QueriesTotal, QueriesByLocationTotal,
		RateLimitDeniedTotal, CircuitBreakerState,
	)
}

// SetTrackedLocations sets the allow-list for location metrics. Non-tracked locations increment "other".
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[normalizeLocationForMetrics(loc)] = struct{}{}
	}
}

// MetricLocationLabel maps a location to its metric label: the location itself
// when tracked, "other" otherwise. Keeps label cardinality bounded.
func MetricLocationLabel(location string) string {
	loc := normalizeLocationForMetrics(location)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc] // nil map read is safe in Go
	trackedLocationsMu.RUnlock()
	if ok {
		return loc
	}
	return "other"
}

// RecordQuery records a forecast lookup for the given location.
func RecordQuery(location string) {
	QueriesTotal.Inc()
	QueriesByLocationTotal.WithLabelValues(MetricLocationLabel(location)).Inc()
}

func normalizeLocationForMetrics(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return s
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
