package worker

import (
	"errors"
	"net/http"

	"github.com/joshu-sajeev/sourcestage/internal/apiclient"
	"github.com/joshu-sajeev/sourcestage/internal/credentials"
	"github.com/joshu-sajeev/sourcestage/internal/discovery"
)

var ErrConnectionUnavailable = errors.New("connection not found or inactive")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job fails on this attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// classify marks failures that another attempt cannot fix.
func classify(err error) error {
	switch {
	case err == nil, IsPermanent(err):
		return err
	case errors.Is(err, discovery.ErrNotConfigured),
		errors.Is(err, discovery.ErrUnknownSourceType),
		errors.Is(err, credentials.ErrForeignConnection),
		apiclient.IsStatus(err, http.StatusUnauthorized),
		apiclient.IsStatus(err, http.StatusForbidden),
		apiclient.IsStatus(err, http.StatusNotFound):
		return Permanent(err)
	default:
		return err
	}
}
