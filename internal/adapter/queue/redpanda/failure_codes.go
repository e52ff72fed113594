package redpanda

import (
	"errors"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

// classifyFailure maps a task error onto a stable code used for metrics
// labels and dead-letter metadata.
func classifyFailure(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		return "UPSTREAM_RATE_LIMIT"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return "UPSTREAM_TIMEOUT"
	case errors.Is(err, domain.ErrSchemaInvalid):
		return "SCHEMA_INVALID"
	case errors.Is(err, domain.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrConflict):
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}

// transientFailure reports whether a redrive from the DLQ may succeed
// without operator intervention.
func transientFailure(code string) bool {
	return code == "UPSTREAM_RATE_LIMIT" || code == "UPSTREAM_TIMEOUT" || code == "INTERNAL"
}
