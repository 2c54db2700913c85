// Package bitrix provides a client for the Bitrix24 REST webhook API
// with token-bucket rate limiting, automatic retry, and error
// classification.
package bitrix

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, bitrix.ErrThrottled) to check.
var (
	ErrBadRequest   = errors.New("bitrix: bad request")
	ErrUnauthorized = errors.New("bitrix: unauthorized")
	ErrForbidden    = errors.New("bitrix: forbidden")
	ErrNotFound     = errors.New("bitrix: not found")
	ErrThrottled    = errors.New("bitrix: throttled")
	ErrServerError  = errors.New("bitrix: server error")
)

// APIError wraps a sentinel error with the HTTP status code and the error
// envelope Bitrix returns ({"error": code, "error_description": text}).
// Bitrix can return the envelope even with HTTP 200, in which case
// StatusCode holds 200 and Code carries the real failure.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
	Err         error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("bitrix: HTTP %d (%s): %s", e.StatusCode, e.Code, e.Description)
	}

	return fmt.Sprintf("bitrix: HTTP %d: %s", e.StatusCode, e.Description)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
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
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusBadRequest {
			return ErrBadRequest
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be
// retried. Bitrix signals rate pressure with both 429 and 503
// (QUERY_LIMIT_EXCEEDED rides on a 503).
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
