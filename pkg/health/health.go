// Package health runs dependency checks for the liveness and readiness
// endpoints. A critical dependency that fails (the report store) marks the
// process down; an optional one (Redis, Kafka, an index still building)
// only degrades it, and a degraded process keeps receiving traffic.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds each check.
const DefaultCheckTimeout = 2 * time.Second

// Status represents the health state of a component or the system overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check is a function that checks a single dependency and returns its status.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth holds the result of a single component check.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the aggregated result of all component checks.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Checker holds the registered checks.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker creates an empty Checker with DefaultCheckTimeout.
func NewChecker() *Checker {
	return &Checker{
		checks:  make(map[string]Check),
		timeout: DefaultCheckTimeout,
		logger:  slog.Default().With("component", "health"),
	}
}

// SetCheckTimeout changes the per-check deadline.
func (c *Checker) SetCheckTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Register adds or replaces a named check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes every check concurrently, each under its own deadline. A
// check that overruns or panics reports down. The overall status is the
// worst component status.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	timeout := c.timeout
	c.mu.RUnlock()
	sort.Strings(names)

	results := make([]ComponentHealth, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.runCheck(ctx, name, checks[name], timeout)
		}()
	}
	wg.Wait()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(names)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for i, name := range names {
		report.Components[name] = results[i]
		report.Status = worse(report.Status, results[i].Status)
	}
	return report
}

func (c *Checker) runCheck(ctx context.Context, name string, check Check, timeout time.Duration) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()

	done := make(chan ComponentHealth, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("health check panicked", "check", name, "panic", r)
				done <- ComponentHealth{Status: StatusDown, Message: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		done <- check(ctx)
	}()

	var result ComponentHealth
	select {
	case result = <-done:
	case <-ctx.Done():
		result = ComponentHealth{Status: StatusDown, Message: "check timed out after " + timeout.String()}
	}
	result.Latency = time.Since(start).Round(time.Millisecond).String()
	if result.Status != StatusUp {
		c.logger.Warn("health check not up", "check", name, "status", result.Status, "message", result.Message)
	}
	return result
}

func worse(a, b Status) Status {
	rank := map[Status]int{StatusUp: 0, StatusDegraded: 1, StatusDown: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// PingCheck adapts a ping function into a Check. Failures report down when
// the dependency is critical and degraded otherwise.
func PingCheck(ping func(ctx context.Context) error, critical bool) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			status := StatusDegraded
			if critical {
				status = StatusDown
			}
			return ComponentHealth{Status: status, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// Static reports a fixed status, for optional dependencies that are switched
// off by configuration.
func Static(status Status, message string) Check {
	return func(context.Context) ComponentHealth {
		return ComponentHealth{Status: status, Message: message}
	}
}

// LiveHandler answers liveness requests. It runs no checks: a process that
// can answer is alive.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers readiness requests with the full Report. Only a down
// status answers 503; degraded still answers 200.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
