package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeUpstreamUnavailable indicates the backend could not be
	// reached, answered with a non-success status, or returned no body.
	ErrorTypeUpstreamUnavailable ErrorType = "upstream_unavailable"
	// ErrorTypeInvalidRequest indicates a malformed client request (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeNotFound indicates a not found error (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeRateLimit indicates the backend rejected the request with 429
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeInternal indicates an unexpected relay-side failure
	ErrorTypeInternal ErrorType = "internal_error"
)

// RelayError is the base error type for all relay errors
type RelayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Backend    string    `json:"backend,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *RelayError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Backend, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *RelayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *RelayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *RelayError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewUpstreamUnavailableError creates an error for a backend that could not
// be reached or answered with a failure.
func NewUpstreamUnavailableError(backend, message string, err error) *RelayError {
	return &RelayError{
		Type:       ErrorTypeUpstreamUnavailable,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Backend:    backend,
		Err:        err,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *RelayError {
	return &RelayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *RelayError {
	return &RelayError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewInternalError creates a new internal error (500)
func NewInternalError(message string, err error) *RelayError {
	return &RelayError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// ErrorMessage extracts the client-facing message from err. For a
// RelayError that is its Message field; anything else falls back to
// err.Error().
func ErrorMessage(err error) string {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Message
	}
	return err.Error()
}

// BackendErrorMessage extracts a human-readable message from a backend
// error body. Ollama-style bodies carry {"error": "..."}, OpenAI-style
// bodies carry {"error": {"message": "..."}}; anything else is returned
// as-is.
func BackendErrorMessage(statusCode int, body []byte) string {
	if v := gjson.GetBytes(body, "error"); v.Exists() {
		if m := v.Get("message"); m.Exists() && m.String() != "" {
			return m.String()
		}
		if v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("backend returned status %d", statusCode)
	}
	return msg
}

// ParseBackendError parses an error response from the backend and returns an
// appropriate RelayError.
func ParseBackendError(backend string, statusCode int, body []byte, originalErr error) *RelayError {
	message := BackendErrorMessage(statusCode, body)

	switch {
	case statusCode == http.StatusNotFound:
		err := NewNotFoundError(message)
		err.Backend = backend
		err.Err = originalErr
		return err
	case statusCode == http.StatusTooManyRequests:
		return &RelayError{
			Type:       ErrorTypeRateLimit,
			Message:    message,
			StatusCode: http.StatusTooManyRequests,
			Backend:    backend,
			Err:        originalErr,
		}
	case statusCode >= 400 && statusCode < 500:
		err := NewInvalidRequestError(message, originalErr)
		err.StatusCode = statusCode
		err.Backend = backend
		return err
	default:
		return NewUpstreamUnavailableError(backend, message, originalErr)
	}
}
