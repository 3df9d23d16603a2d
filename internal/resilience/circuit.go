// Package resilience provides retry, circuit breaking and rate limiting for
// calls to the remote event store.
package resilience

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string

	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 5.
	FailureThreshold uint32

	// ResetTimeout is how long the circuit stays open before transitioning
	// to half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is the number of requests allowed through while
	// half-open. Default: 1.
	HalfOpenMaxProbes uint32

	// ShouldTrip optionally overrides which errors count as failures. If nil,
	// only transient errors do; a unique violation says nothing about the
	// health of the store.
	ShouldTrip func(err error) bool

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(from, to gobreaker.State)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:              "remote-store",
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker fails calls fast while the remote store is down.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxProbes == 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	shouldTrip := cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = IsTransient
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxProbes,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !shouldTrip(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("resilience: circuit state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(from, to)
			}
		},
	}

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State returns the current circuit state.
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Execute runs fn through the breaker. A rejected call returns a
// TransientError wrapping gobreaker.ErrOpenState or ErrTooManyRequests.
func (b *CircuitBreaker) Execute(fn func() error) error {
	_, err := ExecuteVal(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](b *CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := b.cb.Execute(func() (any, error) {
		v, err := fn()
		return v, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, NewTransientError(err, b.cb.Name())
	}
	v, _ := out.(T)
	return v, err
}
