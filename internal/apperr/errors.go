// Package apperr defines the error taxonomy shared by the engine packages.
// Handlers translate these into HTTP status codes; everything that does not
// match one of them is an internal error.
package apperr

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrValidation marks malformed input rejected before touching the store
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing kid, video, channel or request
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks a PIN mismatch or a caller acting on another kid
	ErrForbidden = errors.New("forbidden")
	// ErrConflict marks a transition attempted from the wrong state
	ErrConflict = errors.New("conflict")
)

// RateLimitedError is returned when an action is attempted inside its cooldown
type RateLimitedError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %ds", e.Action, e.RetryAfterSeconds())
}

// RetryAfterSeconds rounds the remaining cooldown up to whole seconds, minimum 1
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RateLimited builds a RateLimitedError
func RateLimited(action string, retryAfter time.Duration) error {
	return &RateLimitedError{Action: action, RetryAfter: retryAfter}
}

// Validation wraps ErrValidation with a message
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// NotFound wraps ErrNotFound with the missing entity
func NotFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

// AsRateLimited unwraps a RateLimitedError if err carries one
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
