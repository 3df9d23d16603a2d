package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/event-ingest/internal/eventsync"
	"github.com/sells-group/event-ingest/internal/metrics"
	"github.com/sells-group/event-ingest/internal/normalize"
	"github.com/sells-group/event-ingest/internal/resilience"
	"github.com/sells-group/event-ingest/internal/store"
)

// localEnv holds the state kept on this machine: the staging buffer and the tracker.
type localEnv struct {
	Local   *store.SQLiteStore
	Tracker store.Tracker
}

// Close releases the tracker and the local database.
func (le *localEnv) Close() {
	if le.Tracker != nil {
		_ = le.Tracker.Close()
	}
	if le.Local != nil {
		_ = le.Local.Close()
	}
}

// initLocal opens and migrates the local SQLite store and the configured
// tracker backend. Callers should defer env.Close().
func initLocal(ctx context.Context) (*localEnv, error) {
	local, err := store.NewSQLite(cfg.Local.Path, store.WithRetention(cfg.Sync.Retention()))
	if err != nil {
		return nil, err
	}
	if err := local.Migrate(ctx); err != nil {
		_ = local.Close()
		return nil, eris.Wrap(err, "migrate local store")
	}

	tracker, err := store.OpenTracker(cfg, local)
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	return &localEnv{Local: local, Tracker: tracker}, nil
}

// syncEnv extends localEnv with the remote store and everything a sync run needs.
type syncEnv struct {
	*localEnv
	Remote   *store.PostgresStore
	Guard    *resilience.Guard
	Recorder *metrics.Recorder
	Runner   *eventsync.Runner
}

// Close releases the remote pool and the local state.
func (se *syncEnv) Close() {
	if se.Remote != nil {
		_ = se.Remote.Close()
	}
	if se.localEnv != nil {
		se.localEnv.Close()
	}
}

// PublishBreakerState copies the remote circuit breaker state to the metrics.
func (se *syncEnv) PublishBreakerState() {
	se.Recorder.SetBreakerState(int(se.Guard.Breaker().State()))
}

// initSync wires the local state, the guarded remote store, the normalizer,
// the sync manager and the runner. mode overrides sync.mode when >= 0.
func initSync(ctx context.Context, mode int) (*syncEnv, error) {
	if err := cfg.Validate("sync"); err != nil {
		return nil, err
	}

	le, err := initLocal(ctx)
	if err != nil {
		return nil, err
	}

	remote, err := store.NewPostgres(ctx, cfg.Store)
	if err != nil {
		le.Close()
		return nil, err
	}
	if err := remote.Migrate(ctx); err != nil {
		le.Close()
		_ = remote.Close()
		return nil, eris.Wrap(err, "migrate remote store")
	}

	normalizer, err := normalize.FromConfig(cfg.Normalize)
	if err != nil {
		le.Close()
		_ = remote.Close()
		return nil, err
	}

	guard := resilience.GuardFromConfig(cfg.Resilience, cfg.Sync.RemoteTimeout)
	manager := eventsync.NewManager(
		le.Local,
		le.Tracker,
		store.NewGuardedEventStore(remote, guard),
		normalizer,
		eventsync.WithLookupConcurrency(cfg.Sync.LookupConcurrency),
		eventsync.WithThresholds(cfg.Normalize.TitleThreshold, cfg.Normalize.LocationThreshold),
	)

	if mode < 0 {
		mode = cfg.Sync.Mode
	}
	recorder := metrics.New()
	runner := eventsync.NewRunner(
		store.NewRunLock(cfg.Local.LockPath, cfg.Sync.LockTTL),
		le.Tracker,
		manager,
		mode,
		eventsync.WithSyncLog(remote),
		eventsync.WithRecorder(recorder),
	)

	return &syncEnv{
		localEnv: le,
		Remote:   remote,
		Guard:    guard,
		Recorder: recorder,
		Runner:   runner,
	}, nil
}
