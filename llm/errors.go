package llm

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// APIError is a non-2xx response from a provider, carrying enough detail for
// the caller to classify it as transient or permanent. The transport makes
// exactly one attempt per request; retry decisions belong to the agent layer.
type APIError struct {
	StatusCode int
	Body       string
	// RetryAfter is the server's retry hint, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("LLM API error %d: %s", e.StatusCode, e.Body)
}

// RateLimited reports whether the error is a rate-limit signal.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Transient reports whether the error is worth retrying at all: rate limits,
// server overload and gateway trouble. Anything else is a permanent
// rejection of the request.
func (e *APIError) Transient() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// AsAPIError unwraps an *APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
