// Package common holds the error type the HTTP surface answers with.
package common

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is an error with the HTTP status and body it should produce.
// Cause is kept for logs and never rendered to the client.
type APIError struct {
	Status  int            `json:"-"`
	Message string         `json:"error"`
	Fields  map[string]any `json:"fields,omitempty"`
	Cause   error          `json:"-"`
}

func (e APIError) Error() string {
	return e.Message
}

func (e APIError) Unwrap() error {
	return e.Cause
}

func Errf(status int, format string, args ...any) APIError {
	return APIError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a client-facing message to an internal failure.
func Wrap(status int, cause error, message string) APIError {
	return APIError{Status: status, Message: message, Cause: cause}
}

// NewAPIError creates an APIError with status, message, and optional fields
func NewAPIError(status int, message string, fields map[string]any) APIError {
	return APIError{
		Status:  status,
		Message: message,
		Fields:  fields,
	}
}

// AsAPIError finds an APIError in err's chain. Anything else becomes an
// opaque 500 carrying err as its cause.
func AsAPIError(err error) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Wrap(http.StatusInternalServerError, err, "internal server error")
}
