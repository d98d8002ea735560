// Package budget checks the configured polling cadence against the catalog
// provider's request quota before any network call is made.
package budget

import (
	"errors"
	"fmt"
	"math"
)

// DefaultMaxRequestsPerMinute is the provider quota used when none is configured.
const DefaultMaxRequestsPerMinute = 300

// ErrBudgetExceeded is returned when the configured cadence would exceed the quota.
var ErrBudgetExceeded = errors.New("request budget exceeded")

// ErrInvalidCadence is returned for non-positive intervals or fetch counts.
var ErrInvalidCadence = errors.New("invalid polling cadence")

// ExceededError reports the computed request rate alongside the quota.
type ExceededError struct {
	RequestsPerMinute    float64
	MaxRequestsPerMinute int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("requests will exceed api limits: %.1f req/min > %d req/min",
		e.RequestsPerMinute, e.MaxRequestsPerMinute)
}

func (e *ExceededError) Unwrap() error { return ErrBudgetExceeded }

// RequestsPerMinute returns (60 / pollIntervalMinutes) * consecutiveFetches.
func RequestsPerMinute(pollIntervalMinutes float64, consecutiveFetches int) float64 {
	return (60 / pollIntervalMinutes) * float64(consecutiveFetches)
}

// Validate returns nil when the cadence fits within maxRequestsPerMinute.
// A maxRequestsPerMinute of zero or less selects DefaultMaxRequestsPerMinute.
func Validate(pollIntervalMinutes float64, consecutiveFetches, maxRequestsPerMinute int) error {
	if !(pollIntervalMinutes > 0) || math.IsInf(pollIntervalMinutes, 1) {
		return fmt.Errorf("%w: poll interval must be positive, got %v minutes", ErrInvalidCadence, pollIntervalMinutes)
	}
	if consecutiveFetches < 1 {
		return fmt.Errorf("%w: consecutive fetches must be at least 1, got %d", ErrInvalidCadence, consecutiveFetches)
	}
	if maxRequestsPerMinute <= 0 {
		maxRequestsPerMinute = DefaultMaxRequestsPerMinute
	}

	rpm := RequestsPerMinute(pollIntervalMinutes, consecutiveFetches)
	if rpm > float64(maxRequestsPerMinute) {
		return &ExceededError{RequestsPerMinute: rpm, MaxRequestsPerMinute: maxRequestsPerMinute}
	}
	return nil
}
