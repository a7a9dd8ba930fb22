package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/OnlineMo/DeepResearch-Web/pkg/errors"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "read", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return errors.Is(err, errTransient) },
	}, func() error {
		calls++
		return errPermanent
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryRecoversFromTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "read", RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}, func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "fetch tree", RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
	}, func() error {
		calls++
		return errTransient
	})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T %v", err, err)
	}
	if exhausted.Attempts != 2 || calls != 2 {
		t.Errorf("attempts = %d, calls = %d, want 2 and 2", exhausted.Attempts, calls)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("exhausted error should unwrap to the last failure")
	}
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, "read", RetryConfig{MaxAttempts: 10, InitialDelay: time.Hour}, func() error {
		calls++
		cancel()
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2, JitterFraction: 0.1}
	for attempt, want := range map[int]time.Duration{1: 10 * time.Millisecond, 2: 20 * time.Millisecond, 3: 40 * time.Millisecond} {
		got := cfg.Backoff(attempt)
		if got < want*9/10 || got > want*11/10 {
			t.Errorf("Backoff(%d) = %v, want about %v", attempt, got, want)
		}
	}
	for attempt := 4; attempt < 40; attempt++ {
		if got := cfg.Backoff(attempt); got > cfg.MaxDelay {
			t.Errorf("Backoff(%d) = %v exceeds max %v", attempt, got, cfg.MaxDelay)
		}
	}
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	var states []State
	cb := NewCircuitBreaker("archive", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		IsFailure:        func(err error) bool { return !errors.Is(err, errPermanent) },
		OnStateChange:    func(_ string, to State) { states = append(states, to) },
	})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return errPermanent })
	}
	if cb.State() != StateClosed {
		t.Fatalf("non-failure errors must not open the breaker")
	}

	_ = cb.Execute(func() error { return errTransient })
	_ = cb.Execute(func() error { return errTransient })
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if len(states) != 1 || states[0] != StateOpen {
		t.Errorf("expected one transition to open, got %v", states)
	}
}

func TestCircuitBreakerHalfOpenTrial(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("github-archive", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errTransient })
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	now = now.Add(time.Minute)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after the reset timeout, got %s", cb.State())
	}
	_ = cb.Execute(func() error { return errTransient })
	if cb.State() != StateOpen {
		t.Fatalf("a failed trial request should re-open, got %s", cb.State())
	}

	now = now.Add(time.Minute)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial request rejected: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("a successful trial request should close, got %s", cb.State())
	}
	if c := cb.Counts(); c.Calls != 0 || c.Failures != 0 {
		t.Errorf("closing should start a fresh generation, got %+v", c)
	}
}

func TestCircuitBreakerLimitsConcurrentTrials(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("github-archive", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return now }
	_ = cb.Execute(func() error { return errTransient })
	now = now.Add(time.Second)

	var inner error
	err := cb.Execute(func() error {
		inner = cb.Execute(func() error { return nil })
		return nil
	})
	if err != nil {
		t.Fatalf("first trial request rejected: %v", err)
	}
	if !errors.Is(inner, ErrCircuitOpen) {
		t.Errorf("second concurrent trial request should be rejected, got %v", inner)
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker("archive", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(func() error { return errTransient })
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after reset, got %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("reset breaker rejected a call: %v", err)
	}
}

func TestStateString(t *testing.T) {
	if StateHalfOpen.String() != "half-open" || State(7).String() != "state(7)" {
		t.Errorf("unexpected names %q %q", StateHalfOpen, State(7))
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, apperrors.ErrTimeout) {
		t.Errorf("expected a timeout, got %v", err)
	}
}

func TestWithTimeoutParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithTimeout(ctx, time.Second, "cancelled", func(ctx context.Context) error {
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, apperrors.ErrTimeout) {
		t.Errorf("expected cancellation, got %v", err)
	}
}

func TestWithTimeoutPassesErrors(t *testing.T) {
	err := WithTimeout(context.Background(), time.Second, "fails", func(context.Context) error {
		return errPermanent
	})
	if err != errPermanent {
		t.Errorf("err = %v, want errPermanent", err)
	}
}
