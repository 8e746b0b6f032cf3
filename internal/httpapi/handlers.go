package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gridwx/weather-grid-service/internal/query"
	"github.com/gridwx/weather-grid-service/internal/validation"
)

// shuttingDown is flipped by main when graceful shutdown begins so the health
// endpoint can fail fast for load balancers.
var shuttingDown atomic.Bool

// SetShuttingDown marks the process as shutting down.
func SetShuttingDown(v bool) { shuttingDown.Store(v) }

// HealthConfig holds dependency probes for the health handler.
type HealthConfig struct {
	StartTime time.Time
	// StorePing, when set, is called to check store reachability.
	StorePing func() error
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	queries          *query.Service
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(queries *query.Service, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		queries:      queries,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetWeatherByCoords handles GET /v1/weather?lat=&lon=.
func (h *Handler) GetWeatherByCoords(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDS", "lat and lon query parameters are required")
		return
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDS", "lat must be in [-90,90], lon in [-180,180]")
		return
	}

	report, err := h.queries.ByCoords(r.Context(), lat, lon)
	if err != nil {
		writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetWeatherByName handles GET /v1/weather/{name}. An optional country query
// parameter narrows homonyms.
func (h *Handler) GetWeatherByName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(mux.Vars(r)["name"])
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", "city name is required")
		return
	}
	country := strings.TrimSpace(r.URL.Query().Get("country"))

	report, err := h.queries.ByName(r.Context(), name, country)
	if err != nil {
		writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result, checks := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-grid-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptime_seconds"] = int64(time.Since(h.healthConfig.StartTime).Seconds())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus evaluates health in priority order: shutting-down, then
// dependency probes, then healthy. Returns the result plus per-check detail.
func (h *Handler) computeHealthStatus() (healthResult, map[string]string) {
	checks := make(map[string]string)
	if shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}, checks
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}, checks
	}
	degraded := false
	if h.healthConfig.StorePing != nil {
		if err := h.healthConfig.StorePing(); err != nil {
			checks["store"] = "unhealthy"
			degraded = true
		} else {
			checks["store"] = "healthy"
		}
	}
	if h.healthConfig.CachePing != nil {
		if err := h.healthConfig.CachePing(); err != nil {
			checks["cache"] = "unhealthy"
			degraded = true
		} else {
			checks["cache"] = "healthy"
		}
	}
	if degraded {
		return healthResult{"degraded", http.StatusServiceUnavailable, "dependency_unreachable"}, checks
	}
	return healthResult{"healthy", http.StatusOK, ""}, checks
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeQueryError maps query layer errors onto HTTP responses. An ambiguous
// name returns the candidate list so the caller can retry with a qualifier.
func writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	var amb *query.AmbiguousNameError
	switch {
	case errors.As(err, &amb):
		corrID := ""
		if v := r.Context().Value("correlation_id"); v != nil {
			corrID = v.(string)
		}
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": map[string]interface{}{
				"code":       "AMBIGUOUS_NAME",
				"message":    amb.Error(),
				"candidates": amb.Candidates,
				"requestId":  corrID,
			},
		})
	case errors.Is(err, query.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no forecast data for that location")
	case errors.Is(err, query.ErrResolutionMismatch):
		writeError(w, r, http.StatusInternalServerError, "GRID_VERSION_MISMATCH", "stored dataset uses a different grid formula")
	case isValidationError(err):
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "request timed out")
	default:
		writeError(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "unable to read forecast data")
		if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
			logger.Debug("store error", zap.Error(err))
		}
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, validation.ErrLocationEmpty) ||
		errors.Is(err, validation.ErrLocationTooShort) ||
		errors.Is(err, validation.ErrLocationTooLong) ||
		errors.Is(err, validation.ErrLocationInvalidChars)
}
