// Package errors defines the error kinds the archive, library and API agree
// on, and how they map to HTTP statuses.
package errors

import (
	"errors"
	"net/http"
)

// Error kinds shared by the archive backends, the library and the HTTP
// layer. Wrap them with fmt.Errorf and test with errors.Is.
var (
	ErrReportNotFound    = errors.New("report not found")
	ErrMalformedDocument = errors.New("malformed document")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrUnavailable       = errors.New("upstream unavailable")
	ErrTimeout           = errors.New("operation timed out")
)

// statusByKind is checked in order; the first kind err wraps decides.
var statusByKind = []struct {
	kind   error
	status int
}{
	{ErrReportNotFound, http.StatusNotFound},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrMalformedDocument, http.StatusUnprocessableEntity},
	{ErrRateLimited, http.StatusTooManyRequests},
	{ErrTimeout, http.StatusGatewayTimeout},
	{ErrUnavailable, http.StatusServiceUnavailable},
}

// Classify maps an upstream transport status code to a sentinel.
// It returns nil for 2xx and 3xx codes.
func Classify(statusCode int) error {
	switch {
	case statusCode < 400:
		return nil
	case statusCode == http.StatusNotFound:
		return ErrReportNotFound
	case statusCode == http.StatusTooManyRequests, statusCode == http.StatusForbidden:
		return ErrRateLimited
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusGatewayTimeout:
		return ErrTimeout
	case statusCode >= 500:
		return ErrUnavailable
	default:
		return ErrInvalidInput
	}
}

// IsRateLimited reports whether err carries the rate-limit kind.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsNotFound reports whether err carries the not-found kind.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrReportNotFound)
}

// HTTPStatusCode maps err to the status the API answers with; errors of no
// known kind are 500.
func HTTPStatusCode(err error) int {
	for _, k := range statusByKind {
		if errors.Is(err, k.kind) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}
