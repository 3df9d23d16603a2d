package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/event-ingest/internal/config"
)

// Guard wraps every remote store call with a rate limit, a per-call timeout,
// a circuit breaker and retries. Errors that survive the retries and are
// transient come back as *TransientError.
type Guard struct {
	limiter *rate.Limiter
	breaker *CircuitBreaker
	retry   RetryConfig
	timeout time.Duration
}

// NewGuard assembles a Guard. A nil limiter means unlimited; a zero timeout
// means calls inherit the caller's deadline.
func NewGuard(limiter *rate.Limiter, breaker *CircuitBreaker, retry RetryConfig, timeout time.Duration) *Guard {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig())
	}
	return &Guard{limiter: limiter, breaker: breaker, retry: retry, timeout: timeout}
}

// GuardFromConfig builds the Guard for the remote store from configuration.
func GuardFromConfig(cfg config.ResilienceConfig, timeout time.Duration) *Guard {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	retry := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff > 0 {
		retry.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		retry.MaxBackoff = cfg.MaxBackoff
	}
	retry.OnRetry = RetryLogger("remote-store", "call")

	cb := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold > 0 {
		cb.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeout > 0 {
		cb.ResetTimeout = cfg.ResetTimeout
	}

	return NewGuard(rate.NewLimiter(limit, burst), NewCircuitBreaker(cb), retry, timeout)
}

// Breaker exposes the guard's circuit breaker for status reporting.
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

// Do runs fn under the guard. op names the call in errors and logs.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := GuardVal(ctx, g, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// GuardVal is Do for calls that return a value.
func GuardVal[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	val, err := DoVal(ctx, g.retry, func(ctx context.Context) (T, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, eris.Wrapf(err, "resilience: %s: rate limit wait", op)
		}
		return ExecuteVal(g.breaker, func() (T, error) {
			callCtx := ctx
			if g.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, g.timeout)
				defer cancel()
			}
			return fn(callCtx)
		})
	})
	if err != nil && IsTransient(err) {
		var te *TransientError
		if !errors.As(err, &te) {
			err = NewTransientError(err, op)
		}
		zap.L().Debug("resilience: transient failure",
			zap.String("op", op),
			zap.Error(err),
		)
	}
	return val, err
}
