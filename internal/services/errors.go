package services

import (
	"errors"
	"net/http"

	parley_errors "parley/pkg/errors"
)

// HTTPStatus is the single translation from service errors to status codes.
// Specific sentinels are matched before the generic ones they wrap.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, parley_errors.ErrMalformedToken), errors.Is(err, parley_errors.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, parley_errors.ErrMissingClaim):
		return http.StatusBadRequest
	case errors.Is(err, parley_errors.ErrNotWhitelisted), errors.Is(err, parley_errors.ErrParticipationGated):
		return http.StatusUnauthorized
	case errors.Is(err, parley_errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, parley_errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, parley_errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, parley_errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, parley_errors.ErrAlreadyExists), errors.Is(err, parley_errors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, parley_errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns the stable machine-readable code paired with HTTPStatus.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, parley_errors.ErrMalformedToken), errors.Is(err, parley_errors.ErrInvalidToken):
		return "INVALID_TOKEN"
	case errors.Is(err, parley_errors.ErrMissingClaim):
		return "MISSING_CLAIM"
	case errors.Is(err, parley_errors.ErrNotWhitelisted):
		return "XID_NOT_WHITELISTED"
	case errors.Is(err, parley_errors.ErrParticipationGated):
		return "INVITE_REQUIRED"
	case errors.Is(err, parley_errors.ErrTooManyRequests):
		return "TOO_MANY_REQUESTS"
	case errors.Is(err, parley_errors.ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, parley_errors.ErrConversationNotFound):
		return "CONVERSATION_NOT_FOUND"
	case errors.Is(err, parley_errors.ErrInvalidInput):
		return "INVALID_REQUEST"
	case errors.Is(err, parley_errors.ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, parley_errors.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, parley_errors.ErrAlreadyExists), errors.Is(err, parley_errors.ErrConflict):
		return "CONFLICT"
	case errors.Is(err, parley_errors.ErrServiceUnavailable):
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

// PublicMessage is safe to show callers; internal failures get a generic text.
func PublicMessage(err error) string {
	if HTTPStatus(err) >= http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
