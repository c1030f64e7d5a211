package ai

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusOverloaded is the non-standard status Anthropic returns when the
// API is temporarily overloaded.
const StatusOverloaded = 529

// APIError is returned when a provider answers with a non-2xx status.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// IsRateLimited reports whether err is an upstream 429.
func IsRateLimited(err error) bool {
	return hasStatus(err, http.StatusTooManyRequests)
}

// IsOverloaded reports whether err is an upstream 529.
func IsOverloaded(err error) bool {
	return hasStatus(err, StatusOverloaded)
}

func hasStatus(err error, code int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == code
	}
	return false
}

// maxErrorBody caps how much of an upstream error body is kept.
const maxErrorBody = 2048

func newAPIError(provider string, status int, body []byte) *APIError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &APIError{Provider: provider, StatusCode: status, Body: string(body)}
}
