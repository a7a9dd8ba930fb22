// Package middleware provides reusable HTTP middleware for request IDs,
// access logging, CORS, per-client rate limits, Prometheus metrics, and
// request timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/pkg/metrics"
)

// Metrics records request count, latency and the in-flight gauge. Paths
// are reduced to route labels first, so report paths, category slugs and
// scanner noise do not each become a series.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := routeLabel(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

// routes are the fixed API paths reported under their own label.
var routes = map[string]bool{
	"/api/v1/search":           true,
	"/api/v1/suggestions":      true,
	"/api/v1/trending":         true,
	"/api/v1/today":            true,
	"/api/v1/navigation":       true,
	"/api/v1/categories":       true,
	"/api/v1/timeline":         true,
	"/api/v1/index":            true,
	"/api/v1/analytics":        true,
	"/api/v1/cache/stats":      true,
	"/api/v1/cache/invalidate": true,
	"/health/live":             true,
	"/health/ready":            true,
}

// routeLabel maps a request path to a bounded label set. Paths that match
// no route are reported as "other".
func routeLabel(path string) string {
	switch {
	case routes[path]:
		return path
	case strings.HasPrefix(path, "/api/v1/reports/"):
		return "/api/v1/reports/{path}"
	case strings.HasPrefix(path, "/api/v1/categories/"):
		return "/api/v1/categories/{slug}"
	default:
		return "other"
	}
}
