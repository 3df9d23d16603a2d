package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/event-ingest/internal/config"
	"github.com/sells-group/event-ingest/internal/db"
	"github.com/sells-group/event-ingest/internal/model"
)

// PostgresStore implements EventStore and SyncLog on a shared Postgres database.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to the remote store described by cfg.
func NewPostgres(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS events (
	id           BIGSERIAL PRIMARY KEY,
	content_hash TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL,
	event_date   DATE NOT NULL,
	event_time   TEXT,
	location     TEXT NOT NULL,
	link         TEXT NOT NULL,
	description  TEXT,
	source       TEXT NOT NULL,
	price_cents  BIGINT NOT NULL DEFAULT 0,
	price_tier   SMALLINT NOT NULL,
	category     TEXT NOT NULL,
	ingested_at  TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_events_event_date ON events(event_date);
CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);

CREATE TABLE IF NOT EXISTS sync_log (
	id           UUID PRIMARY KEY,
	run_number   BIGINT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	synced       INTEGER NOT NULL DEFAULT 0,
	duplicates   INTEGER NOT NULL DEFAULT 0,
	pruned       INTEGER NOT NULL DEFAULT 0,
	errors       JSONB,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sync_log_started_at ON sync_log(started_at DESC);
`

// Migrate creates the events and sync_log tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool if this store opened it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Exists reports whether an event with the content hash is already stored.
func (s *PostgresStore) Exists(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE content_hash = $1)`,
		contentHash,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: exists %s", contentHash)
	}
	return exists, nil
}

// Insert writes ev. A conflicting content hash, whether absorbed by
// ON CONFLICT or raised as a unique violation, is reported as AlreadyExists.
func (s *PostgresStore) Insert(ctx context.Context, ev model.CanonicalEvent) (InsertResult, error) {
	date, err := time.Parse(model.DateLayout, ev.Date)
	if err != nil {
		return Inserted, eris.Wrapf(err, "postgres: insert %s: parse date", ev.ContentHash)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO events (content_hash, title, event_date, event_time, location, link,
			description, source, price_cents, price_tier, category, ingested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (content_hash) DO NOTHING`,
		ev.ContentHash, ev.Title, date, ev.Time, ev.Location, ev.Link,
		ev.Description, ev.Source, ev.Price, int16(ev.PriceTier), string(ev.Category), ev.IngestedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return AlreadyExists, nil
		}
		return Inserted, eris.Wrapf(err, "postgres: insert %s", ev.ContentHash)
	}
	if tag.RowsAffected() == 0 {
		return AlreadyExists, nil
	}
	return Inserted, nil
}

// CountEvents returns the number of stored events.
func (s *PostgresStore) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM events`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count events")
	}
	return n, nil
}
