package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates the endpoint or build does not exist (404).
	ErrNotFound = errors.New("zuul: not found")

	// ErrRateLimited indicates the server asked us to slow down (429).
	ErrRateLimited = errors.New("zuul: rate limited")

	// ErrServer indicates a 5xx response.
	ErrServer = errors.New("zuul: server error")

	// ErrUnexpectedStatus covers every other non-2xx response.
	ErrUnexpectedStatus = errors.New("zuul: unexpected status")

	// ErrDecode indicates the response body is not the expected JSON document.
	ErrDecode = errors.New("zuul: invalid response body")
)

// APIError wraps a failed zuul-web call with the request context.
type APIError struct {
	// Op is the client operation: "builds" or "build".
	Op string

	// URL is the request URL path.
	URL string

	// StatusCode is the HTTP status code, 0 for transport failures.
	StatusCode int

	// Body is a short excerpt of the error response.
	Body string

	Err error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		if e.Body != "" {
			return fmt.Sprintf("zuul: %s %s failed with status %d: %v: %s", e.Op, e.URL, e.StatusCode, e.Err, e.Body)
		}
		return fmt.Sprintf("zuul: %s %s failed with status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("zuul: %s %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func errorFromStatus(statusCode int) error {
	switch {
	case statusCode == http.StatusNotFound:
		return ErrNotFound
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case statusCode >= 500 && statusCode < 600:
		return ErrServer
	default:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, statusCode)
	}
}

// Retryable reports whether a failed call may succeed when repeated:
// transport failures, timeouts, rate limiting and server errors.
// A client timeout matches context.DeadlineExceeded, so callers must check
// their own context to tell cancellation apart.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrDecode) {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch {
	case apiErr.StatusCode == 0:
		return true
	case apiErr.StatusCode == http.StatusRequestTimeout, apiErr.StatusCode == http.StatusTooManyRequests:
		return true
	case apiErr.StatusCode >= 500:
		return true
	default:
		return false
	}
}
