package clouddrive

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification so errors.Is works the
// same way across both trees.
var (
	ErrBadRequest   = errors.New("clouddrive: bad request")
	ErrUnauthorized = errors.New("clouddrive: unauthorized")
	ErrForbidden    = errors.New("clouddrive: forbidden")
	ErrNotFound     = errors.New("clouddrive: not found")
	ErrConflict     = errors.New("clouddrive: conflict")
	ErrGone         = errors.New("clouddrive: change token expired")
	ErrThrottled    = errors.New("clouddrive: throttled")
	ErrServerError  = errors.New("clouddrive: server error")
)

// APIError wraps a sentinel with the HTTP status and request body for
// debugging, mirroring graph.GraphError.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clouddrive: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
