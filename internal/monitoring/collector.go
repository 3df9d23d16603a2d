// Package monitoring watches sync health: it summarizes recent runs from the
// sync log and posts webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/event-ingest/internal/model"
	"github.com/sells-group/event-ingest/internal/store"
)

// Snapshot holds a point-in-time view of sync health.
type Snapshot struct {
	// Runs within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`

	// Totals over completed runs in the window.
	Synced           int `json:"synced"`
	Duplicates       int `json:"duplicates"`
	Pruned           int `json:"pruned"`
	ValidationErrors int `json:"validation_errors"`
	TransientErrors  int `json:"transient_errors"`

	// LastSuccess is the completion time of the newest completed run
	// anywhere in the log, nil if none.
	LastSuccess *time.Time `json:"last_success,omitempty"`
	// StagedEvents is the current staging backlog, -1 when unknown.
	StagedEvents int `json:"staged_events"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of the sync log the collector reads.
type RunLister interface {
	List(ctx context.Context, filter store.RunFilter) ([]model.SyncRun, error)
}

// BacklogCounter reports the staging backlog.
type BacklogCounter interface {
	Count(ctx context.Context) (int, error)
}

// Collector gathers snapshots from the sync log and the staging buffer.
type Collector struct {
	runs    RunLister
	staging BacklogCounter
	now     func() time.Time
}

// NewCollector creates a collector. staging may be nil.
func NewCollector(runs RunLister, staging BacklogCounter) *Collector {
	return &Collector{runs: runs, staging: staging, now: time.Now}
}

// listLimit bounds how many sync log rows a snapshot reads.
const listLimit = 10000

// Collect gathers a snapshot of sync health over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		StagedEvents:  -1,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.List(ctx, store.RunFilter{Limit: listLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.Status == model.RunStatusComplete && r.CompletedAt != nil {
			if snap.LastSuccess == nil || r.CompletedAt.After(*snap.LastSuccess) {
				t := *r.CompletedAt
				snap.LastSuccess = &t
			}
		}
		if r.StartedAt.Before(cutoff) {
			continue
		}

		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			snap.Synced += r.Synced
			snap.Duplicates += r.Duplicates
			snap.Pruned += r.Pruned
			for _, e := range r.Errors {
				switch e.Kind {
				case model.ErrorKindValidation:
					snap.ValidationErrors++
				case model.ErrorKindTransient:
					snap.TransientErrors++
				}
			}
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	if c.staging != nil {
		n, err := c.staging.Count(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: count staged events")
		}
		snap.StagedEvents = n
	}

	return snap, nil
}
