package fetch

import (
	"context"
	"errors"

	"github.com/gridwx/weather-grid-service/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (anchorFailuresTotal).
const (
	ErrorCategoryRateLimited ErrorCategory = "rate_limited"
	ErrorCategoryUnreachable ErrorCategory = "unreachable"
	ErrorCategoryNotFound    ErrorCategory = "not_found"
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryCircuitOpen ErrorCategory = "circuit_open"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps a fetch error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrUnreachable):
		return ErrorCategoryUnreachable
	default:
		return ErrorCategoryUnknown
	}
}
