package apiclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
)

const maxErrorBody = 500

// ErrCircuitOpen is returned without contacting the upstream while the
// client's breaker is open.
var ErrCircuitOpen = gobreaker.ErrOpenState

// StatusError is a non-2xx answer from the upstream API.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string

	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Retryable reports whether the status is one the client retries itself.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsStatus reports whether err carries an upstream answer with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func newStatusError(method, url string, code int, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{Method: method, URL: url, StatusCode: code, Body: string(body)}
}

// isTransient reports network failures worth another attempt: refused or
// reset connections, truncated responses and timeouts.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// localError is a failure that happened on this side of the wire: the
// caller's context ended or credentials could not be resolved.
type localError struct {
	err error
}

func (e *localError) Error() string { return e.err.Error() }
func (e *localError) Unwrap() error { return e.err }

// countsAsFailure decides what the breaker records. Client mistakes such as a
// 404 say nothing about upstream health, and neither do local failures.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var le *localError
	if errors.As(err, &le) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return true
}
