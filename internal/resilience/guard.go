package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/lexiqai/audio-translator/internal/apperr"
	"github.com/lexiqai/audio-translator/internal/observability"
)

// Guard wraps capability calls in a circuit breaker and a retry policy and
// maps failures onto the apperr taxonomy.
type Guard struct {
	breaker *CircuitBreaker
	retry   *RetryConfig
}

// NewGuard creates a guard for the named capability
func NewGuard(name string, maxFailures int, resetTimeout time.Duration, retry *RetryConfig) *Guard {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &Guard{
		breaker: NewCircuitBreaker(name, maxFailures, resetTimeout),
		retry:   retry,
	}
}

// Breaker exposes the underlying breaker for health checks
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

// Available reports whether the breaker would admit a call
func (g *Guard) Available() bool {
	return g.breaker.Allow()
}

// Do runs fn under the breaker with retries on transient errors. A rejected
// call returns CAPABILITY_UNAVAILABLE; an exhausted call CAPABILITY_FAILURE.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := RetryContext(ctx, func(ctx context.Context) error {
		return g.breaker.CallContext(ctx, fn)
	}, g.retry, func(err error) bool {
		return !errors.Is(err, ErrCircuitOpen) && IsRetryableNetworkError(err)
	})
	observability.ObserveCapability(g.breaker.Name(), start, err)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCircuitOpen):
		return apperr.E(apperr.CodeCapabilityUnavailable, op, g.breaker.Name()+" unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.E(apperr.CodeTimeout, op, g.breaker.Name()+" timed out", err)
	case errors.Is(err, context.Canceled):
		return err
	}

	var ae *apperr.AppError
	if errors.As(err, &ae) {
		return err
	}
	return apperr.E(apperr.CodeCapabilityFailure, op, g.breaker.Name()+" call failed", err)
}
