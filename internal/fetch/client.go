// Package fetch talks to the live weather source. Only anchor cells are ever
// fetched; everything else is interpolated downstream.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/gridwx/weather-grid-service/internal/circuitbreaker"
	"github.com/gridwx/weather-grid-service/internal/observability"
)

// Client fetches a forecast reading for a coordinate.
type Client interface {
	FetchForecast(ctx context.Context, lat, lon float64) (Reading, error)
}

var (
	// ErrRateLimited is transient: the caller's retry loop backs off and
	// tries again; it never aborts the run.
	ErrRateLimited = errors.New("rate limited by weather source")
	// ErrUnreachable covers upstream 5xx and transport failures; after
	// retries are exhausted the current anchor is skipped, not the run.
	ErrUnreachable = errors.New("weather source unreachable")
	// ErrNotFound means the source has no data for the coordinate.
	ErrNotFound = errors.New("no forecast for coordinate")
)

const (
	hourlyFields = "temperature_2m,relative_humidity_2m,precipitation_probability,precipitation,wind_speed_10m"
	dailyFields  = "temperature_2m_max,precipitation_sum,precipitation_probability_max,wind_speed_10m_max"
)

// OpenMeteoClient implements Client against the Open-Meteo forecast API with
// retries, a shared rate limiter, and an optional circuit breaker.
type OpenMeteoClient struct {
	apiURL       string
	timeout      time.Duration
	forecastDays int
	timezone     string

	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration

	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	client  *http.Client
}

// Options configures an OpenMeteoClient. Zero values get sensible defaults.
type Options struct {
	APIURL         string
	Timeout        time.Duration
	ForecastDays   int
	Timezone       string
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// RequestsPerSecond paces calls against the provider's free-tier quota.
	// Zero disables pacing.
	RequestsPerSecond float64
}

// NewOpenMeteoClient builds a client. The API is keyless; only the URL is
// required.
func NewOpenMeteoClient(opts Options) (*OpenMeteoClient, error) {
	if opts.APIURL == "" {
		return nil, fmt.Errorf("fetch: API URL is required")
	}
	if _, err := url.Parse(opts.APIURL); err != nil {
		return nil, fmt.Errorf("fetch: invalid API URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.ForecastDays <= 0 {
		opts.ForecastDays = 7
	}
	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &OpenMeteoClient{
		apiURL:         opts.APIURL,
		timeout:        opts.Timeout,
		forecastDays:   opts.ForecastDays,
		timezone:       opts.Timezone,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		limiter:        limiter,
		client:         &http.Client{Timeout: opts.Timeout},
	}, nil
}

// SetCircuitBreaker wraps subsequent calls with cb.
func (c *OpenMeteoClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// FetchForecast fetches the forecast for (lat, lon), retrying transient
// failures with exponential backoff. Respects the shared rate limiter before
// every attempt.
func (c *OpenMeteoClient) FetchForecast(ctx context.Context, lat, lon float64) (Reading, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.FetchRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return Reading{}, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Reading{}, err
			}
		}

		var reading Reading
		call := func() error {
			var err error
			reading, err = c.callAPI(ctx, lat, lon)
			return err
		}
		var err error
		if c.breaker != nil {
			err = c.breaker.Call(ctx, call)
		} else {
			err = call()
		}
		if err == nil {
			return reading, nil
		}

		lastErr = err
		if !retryable(err) {
			return Reading{}, err
		}
	}

	return Reading{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, lat, lon float64) (Reading, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, lat, lon)
	if err != nil {
		observability.FetchCallsTotal.WithLabelValues("error").Inc()
		return Reading{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.FetchCallsTotal.WithLabelValues("error").Inc()
		observability.FetchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Reading{}, fmt.Errorf("request timeout: %w", err)
		}
		return Reading{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.FetchCallsTotal.WithLabelValues(status).Inc()
	observability.FetchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := checkStatus(resp.StatusCode); err != nil {
		return Reading{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reading{}, fmt.Errorf("read response body: %w", err)
	}

	var reading Reading
	if err := json.Unmarshal(body, &reading); err != nil {
		return Reading{}, fmt.Errorf("parse response: %w", err)
	}
	if reading.Empty() {
		return Reading{}, fmt.Errorf("%w: empty forecast payload", ErrNotFound)
	}
	return reading, nil
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, lat, lon float64) (*http.Request, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("hourly", hourlyFields)
	params.Set("daily", dailyFields)
	params.Set("timezone", c.timezone)
	params.Set("forecast_days", strconv.Itoa(c.forecastDays))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusNotFound, code == http.StatusBadRequest:
		return fmt.Errorf("%w: HTTP %d", ErrNotFound, code)
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUnreachable, code)
	case code < 200 || code >= 300:
		return fmt.Errorf("%w: HTTP %d", ErrUnreachable, code)
	}
	return nil
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	// an open breaker means the upstream is already known bad; retrying
	// within this call would just spin
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnreachable) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (c *OpenMeteoClient) backoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "success"
	case code == 429:
		return "rate_limited"
	case code >= 400 && code < 500:
		return "client_error"
	case code >= 500:
		return "server_error"
	default:
		return "error"
	}
}
