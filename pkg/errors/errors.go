package parley_errors

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrAlreadyExists      = errors.New("already exists")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrRateLimited        = errors.New("rate limited")
)

// Identity resolution errors
var (
	ErrMalformedToken       = fmt.Errorf("%w: malformed token", ErrUnauthorized)
	ErrInvalidToken         = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrMissingClaim         = fmt.Errorf("%w: missing required claim", ErrInvalidInput)
	ErrNotWhitelisted       = fmt.Errorf("%w: xid not whitelisted", ErrUnauthorized)
	ErrParticipationGated   = fmt.Errorf("%w: invite required", ErrUnauthorized)
	ErrConversationNotFound = fmt.Errorf("%w: conversation", ErrNotFound)
	ErrTooManyRequests      = fmt.Errorf("%w: too many concurrent requests", ErrRateLimited)
)

// RetryAfterError carries a suggested delay for rate-limited callers.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%s (retry after %s)", e.Err, e.After)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter returns the suggested delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *RetryAfterError
	if errors.As(err, &ra) {
		return ra.After, true
	}
	return 0, false
}
