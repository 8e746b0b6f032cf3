package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gridwx/weather-grid-service/internal/dataset"
	"github.com/gridwx/weather-grid-service/internal/grid"
	"github.com/gridwx/weather-grid-service/internal/query"
	"github.com/gridwx/weather-grid-service/internal/store"
)

// seedCity writes forecast rows plus a CityLookup row for one city.
func seedCity(t *testing.T, st store.Store, idx grid.Index, name, country string, lat, lon, pop float64) grid.Cell {
	t.Helper()
	cell := idx.CellOf(lat, lon)
	cLat, cLon := idx.Center(cell)
	recs := []dataset.Record{
		{
			GridID:         cell.ID(),
			Timestamp:      "2026-08-31T00:00",
			Kind:           dataset.KindHourly,
			LocationName:   name,
			Country:        country,
			Lat:            cLat,
			Lon:            cLon,
			Role:           dataset.RoleSensor,
			Temperature:    21.5,
			FormulaVersion: idx.Version(),
		},
		{
			GridID:       cell.ID(),
			Timestamp:    fmt.Sprintf("CITY#%s#%s", name, country),
			Kind:         dataset.KindCityLookup,
			LocationName: name,
			Country:      country,
			Lat:          lat,
			Lon:          lon,
			Population:   pop,
		},
	}
	if err := st.PutBatch(context.Background(), recs); err != nil {
		t.Fatalf("PutBatch() error = %v", err)
	}
	return cell
}

// newTestRouter builds a router with the full middleware chain over a seeded
// store, mirroring the wiring in cmd/server.
func newTestRouter(t *testing.T, healthCfg *HealthConfig) (*mux.Router, grid.Cell) {
	t.Helper()
	idx := grid.New(grid.DefaultResolution)
	st := store.NewMemoryStore()
	cell := seedCity(t, st, idx, "Barcelona", "ES", 41.39, 2.17, 1620000)
	seedCity(t, st, idx, "Barcelona", "VE", 10.16, -64.68, 421000)
	svc := query.NewService(st, idx, nil, 0)

	logger := zap.NewNop()
	handler := NewHandler(svc, healthCfg, logger)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.HandleFunc("/v1/weather", handler.GetWeatherByCoords).Methods("GET")
	router.HandleFunc("/v1/weather/{name}", handler.GetWeatherByName).Methods("GET")
	return router, cell
}

func TestGetWeatherByCoords_OK(t *testing.T) {
	router, cell := newTestRouter(t, nil)

	req := httptest.NewRequest("GET", "/v1/weather?lat=41.39&lon=2.17", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	var report dataset.Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if report.GridID != cell.ID() {
		t.Errorf("GridID = %q, want %q", report.GridID, cell.ID())
	}
	if report.Role != dataset.RoleSensor {
		t.Errorf("Role = %q, want sensor", report.Role)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestGetWeatherByCoords_BadParams(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	tests := []struct {
		name string
		url  string
	}{
		{"missing", "/v1/weather"},
		{"non numeric", "/v1/weather?lat=abc&lon=2.17"},
		{"lat out of range", "/v1/weather?lat=91&lon=0"},
		{"lon out of range", "/v1/weather?lat=0&lon=181"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.url, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			var resp struct {
				Error struct{ Code string }
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Error.Code != "INVALID_COORDS" {
				t.Errorf("error code = %q, want INVALID_COORDS", resp.Error.Code)
			}
		})
	}
}

func TestGetWeatherByCoords_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest("GET", "/v1/weather?lat=0&lon=-160", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetWeatherByName_QualifiedOK(t *testing.T) {
	router, cell := newTestRouter(t, nil)

	req := httptest.NewRequest("GET", "/v1/weather/Barcelona?country=ES", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	var report dataset.Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if report.GridID != cell.ID() {
		t.Errorf("GridID = %q, want %q", report.GridID, cell.ID())
	}
}

func TestGetWeatherByName_Ambiguous(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest("GET", "/v1/weather/Barcelona", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error struct {
			Code       string
			Candidates []query.Candidate
		}
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Code != "AMBIGUOUS_NAME" {
		t.Errorf("error code = %q, want AMBIGUOUS_NAME", resp.Error.Code)
	}
	if len(resp.Error.Candidates) != 2 {
		t.Errorf("candidates = %d, want 2", len(resp.Error.Candidates))
	}
	if len(resp.Error.Candidates) == 2 && resp.Error.Candidates[0].Country != "ES" {
		t.Errorf("first candidate = %q, want ES (most populated)", resp.Error.Candidates[0].Country)
	}
}

func TestGetWeatherByName_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest("GET", "/v1/weather/Atlantis", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetWeatherByName_InvalidChars(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest("GET", "/v1/weather/bar%25celona", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body %s", w.Code, w.Body.String())
	}
}

func TestGetHealth_Healthy(t *testing.T) {
	router, _ := newTestRouter(t, &HealthConfig{
		StartTime: time.Now(),
		StorePing: func() error { return nil },
	})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
	if resp.Checks["store"] != "healthy" {
		t.Errorf("store check = %q, want healthy", resp.Checks["store"])
	}
}

func TestGetHealth_DegradedOnStoreFailure(t *testing.T) {
	router, _ := newTestRouter(t, &HealthConfig{
		StartTime: time.Now(),
		StorePing: func() error { return errors.New("connection refused") },
	})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
}

func TestGetHealth_ShuttingDown(t *testing.T) {
	router, _ := newTestRouter(t, &HealthConfig{StartTime: time.Now()})
	SetShuttingDown(true)
	defer SetShuttingDown(false)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "shutting-down" {
		t.Errorf("status = %q, want shutting-down", resp.Status)
	}
}
