package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNetwork wraps connection, timeout, and body read failures. The user
	// retries manually; nothing retries automatically.
	ErrNetwork = errors.New("network error")

	// ErrMalformedResponse marks a response body that is not valid JSON or
	// lacks the expected fields.
	ErrMalformedResponse = errors.New("malformed response")
)

// APIError is returned when the backend answers with a non-2xx status.
type APIError struct {
	StatusCode int

	// Body holds the first bytes of the response body, for logs.
	Body string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %d", e.StatusCode)
}

// Retryable reports whether the status suggests a transient server-side or
// rate-limit condition rather than a bad request.
func (e *APIError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// IsCancellation reports whether err stems from a cancelled context. A
// cancelled stream is never surfaced to the user as a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
