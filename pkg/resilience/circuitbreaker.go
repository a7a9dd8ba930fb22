// Package resilience holds the fault-tolerance helpers used around the
// archive backends and the Kafka consumers: a circuit breaker, retry with
// jittered backoff and a per-attempt timeout.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the wrapped function while the
// breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker phase. The numeric values are exported as the
// circuit_breaker_state gauge.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Counts is the breaker's view of the current generation. A generation
// starts at every state change, so counts never leak from before a trip.
type Counts struct {
	Calls                uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

func (c *Counts) success() {
	c.Successes++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.Failures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// CircuitBreakerConfig tunes when the breaker trips and how it recovers.
type CircuitBreakerConfig struct {
	// FailureThreshold trips the breaker after that many consecutive
	// failures. Defaults to 5.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before letting trial
	// requests through. Defaults to 30s.
	ResetTimeout time.Duration
	// HalfOpenMaxRequests trial requests must all succeed to close the breaker.
	HalfOpenMaxRequests int
	// IsFailure decides which errors count against the breaker. Errors it
	// rejects (a missing file, say) count as successes.
	IsFailure func(error) bool
	// OnStateChange runs with the breaker lock held; keep it short.
	OnStateChange func(name string, to State)
}

// CircuitBreaker guards a flaky dependency. Closed passes every call;
// FailureThreshold consecutive failures open it; after ResetTimeout it goes
// half-open and admits HalfOpenMaxRequests trial requests.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	openUntil  time.Time
	inFlight   int
}

// NewCircuitBreaker returns a closed breaker, defaulting zero config fields.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "breaker", "breaker", name),
		now:    time.Now,
	}
}

// Execute calls fn unless the breaker is rejecting calls, then records the
// outcome against the generation fn was admitted in.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(gen, err)
	return err
}

// State reports the current phase, moving open to half-open when the reset
// timeout has passed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh(cb.now())
	return cb.state
}

// Counts returns the counters of the current generation.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.refresh(now)
	switch cb.state {
	case StateOpen:
		return 0, fmt.Errorf("%w: %s, retry in %v", ErrCircuitOpen, cb.name, cb.openUntil.Sub(now).Round(time.Millisecond))
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.HalfOpenMaxRequests {
			return 0, fmt.Errorf("%w: %s is probing", ErrCircuitOpen, cb.name)
		}
		cb.inFlight++
	}
	cb.counts.Calls++
	return cb.generation, nil
}

func (cb *CircuitBreaker) record(gen uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// The breaker moved on while fn ran; its outcome belongs to an old
	// generation.
	if gen != cb.generation {
		return
	}
	if err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err)) {
		cb.counts.failure()
		switch {
		case cb.state == StateHalfOpen:
			cb.logger.Warn("trial request failed, breaker re-opened", "error", err)
			cb.transition(StateOpen, cb.now())
		case int(cb.counts.ConsecutiveFailures) >= cb.cfg.FailureThreshold:
			cb.logger.Warn("breaker opened",
				"consecutive_failures", cb.counts.ConsecutiveFailures,
				"cooldown", cb.cfg.ResetTimeout,
				"error", err,
			)
			cb.transition(StateOpen, cb.now())
		}
		return
	}
	cb.counts.success()
	if cb.state == StateHalfOpen && int(cb.counts.ConsecutiveSuccesses) >= cb.cfg.HalfOpenMaxRequests {
		cb.logger.Info("breaker closed after successful trial requests", "successes", cb.counts.ConsecutiveSuccesses)
		cb.transition(StateClosed, cb.now())
	}
}

func (cb *CircuitBreaker) refresh(now time.Time) {
	if cb.state == StateOpen && !now.Before(cb.openUntil) {
		cb.logger.Info("breaker half-open, admitting trial requests")
		cb.transition(StateHalfOpen, now)
	}
}

// transition starts a new generation in state to.
func (cb *CircuitBreaker) transition(to State, now time.Time) {
	cb.state = to
	cb.generation++
	cb.counts = Counts{}
	cb.inFlight = 0
	if to == StateOpen {
		cb.openUntil = now.Add(cb.cfg.ResetTimeout)
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
}

// Reset closes the breaker regardless of its state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed, cb.now())
}
