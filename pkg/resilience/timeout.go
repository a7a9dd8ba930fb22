package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/OnlineMo/DeepResearch-Web/pkg/errors"
)

// WithTimeout runs fn under a deadline of timeout; fn must honour ctx. When
// the deadline passes the error matches both apperrors.ErrTimeout and
// context.DeadlineExceeded. Cancellation of the parent ctx is returned as
// is so callers can tell a shutdown from a slow upstream.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(attemptCtx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", name, ctx.Err())
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s after %v: %w", apperrors.ErrTimeout, name, timeout, context.DeadlineExceeded)
	default:
		return err
	}
}
