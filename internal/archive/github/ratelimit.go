package github

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRequestsPerSecond keeps an authenticated client well under
	// 5000 requests an hour.
	DefaultRequestsPerSecond = 1.2

	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
	HeaderRetryAfter    = "Retry-After"
)

// RateLimiter throttles requests with a token bucket and remembers the quota
// reported by the API so an exhausted quota fails fast instead of waiting.
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	limit     int
	resetTime time.Time
	known     bool
	bucket    *rate.Limiter
}

func NewRateLimiter(perSecond float64) *RateLimiter {
	if perSecond <= 0 {
		perSecond = DefaultRequestsPerSecond
	}
	return &RateLimiter{
		bucket: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Wait blocks until the token bucket allows a request or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.bucket.Wait(ctx)
}

// Exhausted reports whether the last response said the quota is used up and
// the reset time has not passed.
func (r *RateLimiter) Exhausted() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resetTime, r.known && r.remaining == 0 && time.Now().Before(r.resetTime)
}

// UpdateFromResponse reads the X-RateLimit-* headers of resp.
func (r *RateLimiter) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if remaining := resp.Header.Get(HeaderRateRemaining); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			r.remaining = val
			r.known = true
		}
	}
	if limit := resp.Header.Get(HeaderRateLimit); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			r.limit = val
		}
	}
	if reset := resp.Header.Get(HeaderRateReset); reset != "" {
		if val, err := strconv.ParseInt(reset, 10, 64); err == nil {
			r.resetTime = time.Unix(val, 0)
		}
	}
}

// ResetAfter returns the reset time implied by resp: Retry-After when
// present, else the X-RateLimit-Reset header.
func ResetAfter(resp *http.Response) time.Time {
	if resp == nil {
		return time.Time{}
	}
	if v := resp.Header.Get(HeaderRetryAfter); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			return time.Now().Add(time.Duration(seconds) * time.Second)
		}
	}
	if v := resp.Header.Get(HeaderRateReset); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(unix, 0)
		}
	}
	return time.Time{}
}

func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining
}

func (r *RateLimiter) Limit() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limit
}
