package store

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/event-ingest/internal/model"
)

// Start records the beginning of a sync run and returns its ID.
func (s *PostgresStore) Start(ctx context.Context, runNumber int64) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_log (id, run_number, status, started_at)
		 VALUES ($1, $2, $3, $4)`,
		id, runNumber, string(model.RunStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "synclog: start run %d", runNumber)
	}
	return id, nil
}

// Complete marks a sync run as completed with its counts and per-record errors.
func (s *PostgresStore) Complete(ctx context.Context, id string, result *model.SyncResult) error {
	if result == nil {
		result = &model.SyncResult{}
	}

	var errorsJSON []byte
	if len(result.Errors) > 0 {
		var err error
		errorsJSON, err = json.Marshal(result.Errors)
		if err != nil {
			return eris.Wrap(err, "synclog: marshal errors")
		}
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE sync_log
		 SET status = $1, completed_at = $2, synced = $3, duplicates = $4, pruned = $5, errors = $6
		 WHERE id = $7`,
		string(model.RunStatusComplete), time.Now().UTC(),
		result.Synced, result.DuplicatesRemoved, result.PastEventsPruned, errorsJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "synclog: complete run %s", id)
	}
	return nil
}

// Fail marks a sync run as failed with an error message.
func (s *PostgresStore) Fail(ctx context.Context, id string, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_log
		 SET status = $1, completed_at = $2, error = $3
		 WHERE id = $4`,
		string(model.RunStatusFailed), time.Now().UTC(), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "synclog: fail run %s", id)
	}
	return nil
}

// List returns sync runs, most recent first.
func (s *PostgresStore) List(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		rows pgx.Rows
		err  error
	)
	const cols = `SELECT id, run_number, status, synced, duplicates, pruned, errors, error, started_at, completed_at FROM sync_log`
	if filter.Status != "" {
		rows, err = s.pool.Query(ctx, cols+` WHERE status = $1 ORDER BY started_at DESC LIMIT $2`, string(filter.Status), limit)
	} else {
		rows, err = s.pool.Query(ctx, cols+` ORDER BY started_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, eris.Wrap(err, "synclog: list")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var (
			r          model.SyncRun
			status     string
			errorsJSON []byte
			errStr     *string
		)
		if err := rows.Scan(&r.ID, &r.RunNumber, &status, &r.Synced, &r.Duplicates, &r.Pruned,
			&errorsJSON, &errStr, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "synclog: scan run")
		}
		r.Status = model.RunStatus(status)
		if errStr != nil {
			r.Error = *errStr
		}
		if len(errorsJSON) > 0 {
			if err := json.Unmarshal(errorsJSON, &r.Errors); err != nil {
				return nil, eris.Wrapf(err, "synclog: unmarshal errors for %s", r.ID)
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "synclog: iterate")
}

// LastSuccess returns the start time of the most recent completed run, or
// nil if no run has completed.
func (s *PostgresStore) LastSuccess(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT started_at FROM sync_log
		 WHERE status = $1
		 ORDER BY started_at DESC LIMIT 1`,
		string(model.RunStatusComplete),
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "synclog: last success")
	}
	return &t, nil
}
