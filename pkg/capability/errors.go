package capability

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoBaseURL is returned when a client is built without an endpoint.
	ErrNoBaseURL = errors.New("capability: base URL required")

	// ErrUnsupported is returned by providers that do not serve the
	// requested operation.
	ErrUnsupported = errors.New("capability: operation not supported")

	// ErrEmptyPayload is returned when a request carries no image or audio.
	ErrEmptyPayload = errors.New("capability: empty payload")

	// ErrProviderClosed is returned after Close.
	ErrProviderClosed = errors.New("capability: provider closed")
)

// APIError represents an error response from an inference endpoint.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the service.
	Message string

	// Code is the service error code (if provided).
	Code string

	// Provider identifies which backend returned the error.
	Provider string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("capability [%s]: API error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("capability [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsTimeout returns true if the service reported a timeout (HTTP 408/504).
func (e *APIError) IsTimeout() bool {
	return e.StatusCode == 408 || e.StatusCode == 504
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true if this is an authentication error (HTTP 401).
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("capability [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// IsTimeout reports whether err is a deadline-class failure: a context
// deadline, a network timeout, or a gateway timeout status. The dispatcher
// retries these once; every other failure resolves immediately as ERROR.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.IsTimeout() {
		return true
	}
	return false
}

// StatusOf maps an invocation error to a terminal result status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case IsTimeout(err):
		return StatusTimeout
	default:
		return StatusError
	}
}
