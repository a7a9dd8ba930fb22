package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusOK, nil},
		{http.StatusNotModified, nil},
		{http.StatusNotFound, ErrReportNotFound},
		{http.StatusForbidden, ErrRateLimited},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusGatewayTimeout, ErrTimeout},
		{http.StatusBadGateway, ErrUnavailable},
		{http.StatusUnprocessableEntity, ErrInvalidInput},
	}
	for _, tt := range tests {
		if got := Classify(tt.status); got != tt.want {
			t.Errorf("Classify(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestHTTPStatusCode(t *testing.T) {
	wrapped := fmt.Errorf("reading README.md: %w", ErrRateLimited)
	if got := HTTPStatusCode(wrapped); got != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", got)
	}
	if got := HTTPStatusCode(ErrReportNotFound); got != http.StatusNotFound {
		t.Errorf("expected 404, got %d", got)
	}
	if got := HTTPStatusCode(fmt.Errorf("limit: %w", ErrInvalidInput)); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
	both := errors.Join(fmt.Errorf("open: %w", ErrUnavailable), ErrReportNotFound)
	if got := HTTPStatusCode(both); got != http.StatusNotFound {
		t.Errorf("not found takes precedence, got %d", got)
	}
	if got := HTTPStatusCode(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", got)
	}
}

func TestKindHelpers(t *testing.T) {
	if !IsRateLimited(fmt.Errorf("x: %w", ErrRateLimited)) {
		t.Error("expected rate limited")
	}
	if !IsNotFound(fmt.Errorf("missing %s: %w", "a.md", ErrReportNotFound)) {
		t.Error("expected not found")
	}
	if IsNotFound(ErrRateLimited) {
		t.Error("rate limit is not not-found")
	}
}
