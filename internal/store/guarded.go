package store

import (
	"context"

	"github.com/sells-group/event-ingest/internal/model"
	"github.com/sells-group/event-ingest/internal/resilience"
)

// GuardedEventStore applies rate limiting, per-call timeouts, a circuit
// breaker and retries to every remote call. Failures that remain transient
// after retrying surface as *resilience.TransientError.
type GuardedEventStore struct {
	inner EventStore
	guard *resilience.Guard
}

// NewGuardedEventStore wraps inner with guard.
func NewGuardedEventStore(inner EventStore, guard *resilience.Guard) *GuardedEventStore {
	return &GuardedEventStore{inner: inner, guard: guard}
}

// Exists implements EventStore.
func (g *GuardedEventStore) Exists(ctx context.Context, contentHash string) (bool, error) {
	return resilience.GuardVal(ctx, g.guard, "exists", func(ctx context.Context) (bool, error) {
		return g.inner.Exists(ctx, contentHash)
	})
}

// Insert implements EventStore.
func (g *GuardedEventStore) Insert(ctx context.Context, ev model.CanonicalEvent) (InsertResult, error) {
	return resilience.GuardVal(ctx, g.guard, "insert", func(ctx context.Context) (InsertResult, error) {
		return g.inner.Insert(ctx, ev)
	})
}
