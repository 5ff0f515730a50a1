package fetch

import (
	"errors"
	"fmt"
)

// Sentinel fetch failures, surfaced per spec.md §4.2/§7's fetch error
// taxonomy. The scheduler wraps these into an ErrorRecord with phase=fetch.
var (
	ErrRobotsBlocked      = errors.New("robots.txt disallows this URL")
	ErrTimeout            = errors.New("fetch timed out")
	ErrNetwork            = errors.New("network error")
	ErrTooManyRedirects   = errors.New("too many redirects")
	ErrBodySizeExceeded   = errors.New("response body exceeds maxBytesPerPage")
	ErrShutdownAbandoned  = errors.New("fetch abandoned during shutdown")
)

// HTTPClientError wraps a 4xx response (other than 429, which is retried).
type HTTPClientError struct {
	StatusCode int
}

func (e *HTTPClientError) Error() string {
	return fmt.Sprintf("http client error: status %d", e.StatusCode)
}

// HTTPServerError wraps a 5xx response, which the retry policy treats as
// transient.
type HTTPServerError struct {
	StatusCode int
}

func (e *HTTPServerError) Error() string {
	return fmt.Sprintf("http server error: status %d", e.StatusCode)
}

// Code maps a fetch error to the short code recorded on an ErrorRecord.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrRobotsBlocked):
		return "ROBOTS_BLOCKED"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrTooManyRedirects):
		return "TOO_MANY_REDIRECTS"
	case errors.Is(err, ErrBodySizeExceeded):
		return "BODY_SIZE_EXCEEDED"
	case errors.Is(err, ErrShutdownAbandoned):
		return "SHUTDOWN_ABANDONED"
	case errors.Is(err, ErrNetwork):
		return "NETWORK"
	}
	var clientErr *HTTPClientError
	if errors.As(err, &clientErr) {
		return "HTTP_CLIENT_ERROR"
	}
	var serverErr *HTTPServerError
	if errors.As(err, &serverErr) {
		return "HTTP_SERVER_ERROR"
	}
	return "UNKNOWN"
}

// isRetryable reports whether err represents a transient failure the retry
// policy should retry: connection resets, timeouts, and 5xx responses.
// 4xx other than 429 are never retried.
func isRetryable(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork) {
		return true
	}
	var serverErr *HTTPServerError
	if errors.As(err, &serverErr) {
		return true
	}
	var clientErr *HTTPClientError
	if errors.As(err, &clientErr) {
		return clientErr.StatusCode == 429
	}
	return false
}
