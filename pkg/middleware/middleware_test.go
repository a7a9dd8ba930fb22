package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/OnlineMo/DeepResearch-Web/pkg/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	if seen == "" {
		t.Fatal("expected generated request id in context")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("response header %q does not match context id %q", rec.Header().Get(RequestIDHeader), seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc-123" {
		t.Errorf("expected incoming id to be reused, got %q", seen)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(DefaultCORSConfig([]string{"https://deepresearch.example"}))(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://deepresearch.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://deepresearch.example" {
		t.Errorf("missing allow-origin header")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("unexpected allow-origin for foreign origin")
	}
}

func TestRateLimitPerClient(t *testing.T) {
	limiter := NewLimiter(2, time.Minute)
	fixed := time.Date(2025, 1, 28, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }
	h := RateLimit(limiter)(okHandler())

	do := func(addr, path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if do("10.0.0.1:1000", "/api/v1/search") != http.StatusOK || do("10.0.0.1:1001", "/api/v1/search") != http.StatusOK {
		t.Fatal("first two requests should pass")
	}
	if code := do("10.0.0.1:1002", "/api/v1/search"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", code)
	}
	if code := do("10.0.0.2:1000", "/api/v1/search"); code != http.StatusOK {
		t.Errorf("other clients must not be limited, got %d", code)
	}
	if code := do("10.0.0.1:1003", "/health/live"); code != http.StatusOK {
		t.Errorf("health must bypass the limiter, got %d", code)
	}

	fixed = fixed.Add(30 * time.Second)
	if code := do("10.0.0.1:1004", "/api/v1/search"); code != http.StatusOK {
		t.Errorf("expected refill after half a window, got %d", code)
	}
}

func TestTimeoutAnswers504(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	rec := httptest.NewRecorder()
	Timeout(10*time.Millisecond)(slow).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", rec.Code)
	}
}

func TestTimeoutCommitsFinishedResponse(t *testing.T) {
	fast := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Total-Hits", "3")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	})
	rec := httptest.NewRecorder()
	Timeout(time.Second)(fast).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusCreated || rec.Body.String() != "ok" || rec.Header().Get("X-Total-Hits") != "3" {
		t.Errorf("got %d %q %v", rec.Code, rec.Body.String(), rec.Header())
	}
}

func TestTimeoutDiscardsLateWrites(t *testing.T) {
	wrote := make(chan error, 1)
	late := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		time.Sleep(50 * time.Millisecond)
		_, err := w.Write([]byte("too late"))
		wrote <- err
	})
	rec := httptest.NewRecorder()
	Timeout(10*time.Millisecond)(late).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusGatewayTimeout || strings.Contains(rec.Body.String(), "too late") {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	if err := <-wrote; err != http.ErrHandlerTimeout {
		t.Errorf("late write err = %v, want ErrHandlerTimeout", err)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/api/v1/reports/AI_Reports/a/b.md":    "/api/v1/reports/{path}",
		"/api/v1/categories/she-hui-yu-fa-zhi": "/api/v1/categories/{slug}",
		"/api/v1/search":                       "/api/v1/search",
		"/health/ready":                        "/health/ready",
		"/wp-login.php":                        "other",
		"/api/v1/search/../../etc/passwd":      "other",
	}
	for path, want := range tests {
		if got := routeLabel(path); got != want {
			t.Errorf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestMetricsCountsByRoute(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	h := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
		}
	}))
	for _, path := range []string{"/api/v1/search", "/api/v1/search", "/missing"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/search", "200")); got != 2 {
		t.Errorf("search requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "other", "404")); got != 1 {
		t.Errorf("other 404s = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsInFlight); got != 0 {
		t.Errorf("in flight = %v after all requests finished", got)
	}
}
