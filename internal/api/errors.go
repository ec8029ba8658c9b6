package api

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError represents a failure to complete an HTTP exchange with the
// auth server: connection errors, timeouts, or an unreadable response body.
type TransportError struct {
	// Op is the auth operation ("login", "refresh", "logout").
	Op string

	// Err is the underlying network error.
	Err error
}

// Error implements the error interface for TransportError.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying network error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// RejectedError represents a non-2xx response from the auth server.
//
// Message is taken from the response body's "detail", "error" or "message"
// field when present. The raw body is never included because it may carry
// sensitive hints.
type RejectedError struct {
	Op         string
	StatusCode int
	Message    string
}

// Error implements the error interface for RejectedError.
func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s rejected with status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s rejected with status %d", e.Op, e.StatusCode)
}

// MalformedResponseError represents a 2xx response whose body is not usable:
// invalid JSON or a missing access token.
type MalformedResponseError struct {
	Op     string
	Reason string
	Err    error
}

// Error implements the error interface for MalformedResponseError.
func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s response: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s response: %s", e.Op, e.Reason)
}

// Unwrap returns the decoding error, if any.
func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// IsUnauthorized checks if an error is, or wraps, a RejectedError with
// status 401 or 403.
//
// Example:
//
//	if _, err := client.Refresh(ctx, refreshToken); api.IsUnauthorized(err) {
//	    // the refresh token is no longer accepted
//	}
func IsUnauthorized(err error) bool {
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		return false
	}
	return rejected.StatusCode == http.StatusUnauthorized || rejected.StatusCode == http.StatusForbidden
}

// IsRejected checks if an error is, or wraps, a RejectedError.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// IsTransport checks if an error is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}

// IsMalformedResponse checks if an error is, or wraps, a
// MalformedResponseError.
func IsMalformedResponse(err error) bool {
	var malformed *MalformedResponseError
	return errors.As(err, &malformed)
}
