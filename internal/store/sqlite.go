package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/event-ingest/internal/model"
)

// SQLiteStore is the local state file: the staging buffer, and (with the
// default backend) the tracker and run counter.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithRetention sets the tracker retention window used by Prune.
func WithRetention(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) { s.retention = d }
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	s := &SQLiteStore{db: db, retention: DefaultRetention}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS staged_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	payload   TEXT NOT NULL,
	staged_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tracker_entries (
	content_hash TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	event_date   TEXT NOT NULL,
	added_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS run_counter (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	value INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tracker_entries_event_date ON tracker_entries(event_date);
`

// Migrate creates the local tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Staging ---

// Append implements Staging. All events are written in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, events []model.RawEvent) ([]int64, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: append: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO staged_events (payload, staged_at) VALUES (?, ?)`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: append: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	ids := make([]int64, 0, len(events))
	for i, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: append: marshal event %d", i)
		}
		res, err := stmt.ExecContext(ctx, string(payload), now)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: append: insert event %d", i)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: append: last insert id")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: append: commit")
	}
	return ids, nil
}

// Load implements Staging.
func (s *SQLiteStore) Load(ctx context.Context) ([]model.StagedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload, staged_at FROM staged_events ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load staged")
	}
	defer rows.Close() //nolint:errcheck

	var staged []model.StagedEvent
	for rows.Next() {
		var (
			se      model.StagedEvent
			payload string
		)
		if err := rows.Scan(&se.ID, &payload, &se.StagedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan staged")
		}
		if err := json.Unmarshal([]byte(payload), &se.Raw); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal staged event %d", se.ID)
		}
		staged = append(staged, se)
	}
	return staged, eris.Wrap(rows.Err(), "sqlite: iterate staged")
}

// Remove implements Staging. Either every ID is removed or none is.
func (s *SQLiteStore) Remove(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: remove: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM staged_events WHERE id = ?`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: remove: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	removed := 0
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: remove staged %d", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: remove: rows affected")
		}
		removed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: remove: commit")
	}
	return removed, nil
}

// Count implements Staging.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM staged_events`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count staged")
	}
	return n, nil
}

// --- Tracker ---

// LoadTracker returns all tracker entries keyed by content hash.
func (s *SQLiteStore) LoadTracker(ctx context.Context) (map[string]model.TrackerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT content_hash, title, event_date, added_at FROM tracker_entries`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load tracker")
	}
	defer rows.Close() //nolint:errcheck

	entries := make(map[string]model.TrackerEntry)
	for rows.Next() {
		var e model.TrackerEntry
		if err := rows.Scan(&e.ContentHash, &e.Title, &e.Date, &e.AddedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tracker entry")
		}
		entries[e.ContentHash] = e
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate tracker")
}

// Record adds or refreshes a tracker entry.
func (s *SQLiteStore) Record(ctx context.Context, entry model.TrackerEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tracker_entries (content_hash, title, event_date, added_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(content_hash) DO UPDATE SET
			title = excluded.title, event_date = excluded.event_date, added_at = excluded.added_at`,
		entry.ContentHash, entry.Title, entry.Date, entry.AddedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record tracker entry %s", entry.ContentHash)
}

// Prune deletes expired tracker entries in one transaction.
func (s *SQLiteStore) Prune(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `SELECT content_hash, event_date FROM tracker_entries`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune: select")
	}
	var expired []string
	for rows.Next() {
		var e model.TrackerEntry
		if err := rows.Scan(&e.ContentHash, &e.Date); err != nil {
			rows.Close() //nolint:errcheck
			return 0, eris.Wrap(err, "sqlite: prune: scan")
		}
		if e.Expired(now, s.retention) {
			expired = append(expired, e.ContentHash)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, eris.Wrap(err, "sqlite: prune: close rows")
	}
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "sqlite: prune: iterate")
	}

	for _, hash := range expired {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tracker_entries WHERE content_hash = ?`, hash); err != nil {
			return 0, eris.Wrapf(err, "sqlite: prune: delete %s", hash)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: prune: commit")
	}
	return len(expired), nil
}

// TrackerLen returns the number of tracker entries.
func (s *SQLiteStore) TrackerLen(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM tracker_entries`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count tracker")
	}
	return n, nil
}

// NextRunNumber increments the run counter in a single upsert.
func (s *SQLiteStore) NextRunNumber(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO run_counter (id, value) VALUES (1, 1)
		 ON CONFLICT(id) DO UPDATE SET value = value + 1
		 RETURNING value`,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: next run number")
	}
	return n, nil
}

// CurrentRunNumber returns the last issued run number.
func (s *SQLiteStore) CurrentRunNumber(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM run_counter WHERE id = 1`).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: current run number")
	}
	return n, nil
}

// SQLiteTracker adapts SQLiteStore to the Tracker interface. Staging and
// tracker share one database file, so only one of them closes it.
type SQLiteTracker struct {
	*SQLiteStore
}

// Tracker returns the Tracker view of the store.
func (s *SQLiteStore) Tracker() *SQLiteTracker {
	return &SQLiteTracker{SQLiteStore: s}
}

// Load implements Tracker.
func (t *SQLiteTracker) Load(ctx context.Context) (map[string]model.TrackerEntry, error) {
	return t.LoadTracker(ctx)
}

// Len implements Tracker.
func (t *SQLiteTracker) Len(ctx context.Context) (int, error) {
	return t.TrackerLen(ctx)
}

// Close is a no-op; the owning SQLiteStore closes the database.
func (t *SQLiteTracker) Close() error {
	return nil
}

var (
	_ Staging = (*SQLiteStore)(nil)
	_ Tracker = (*SQLiteTracker)(nil)
)
