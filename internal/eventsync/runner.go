package eventsync

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/event-ingest/internal/model"
	"github.com/sells-group/event-ingest/internal/store"
)

// Locker serializes runs. store.RunLock implements it.
type Locker interface {
	Acquire() error
	Release() error
}

// Recorder receives run outcomes. metrics.Recorder implements it.
type Recorder interface {
	ObserveSync(res *model.SyncResult)
	ObserveSkipped(now time.Time)
	ObserveFailure(now time.Time)
	SetRunNumber(n int64)
}

// RunOptions controls a single invocation.
type RunOptions struct {
	// Force syncs regardless of the schedule; this is how mode 0 syncs.
	Force bool
}

// RunReport describes one invocation of the pipeline.
type RunReport struct {
	RunNumber int64             `json:"run_number"`
	Synced    bool              `json:"synced"`
	Result    *model.SyncResult `json:"result,omitempty"`
}

// Runner is the pipeline entry point: it takes the run lock, advances the
// run counter, consults the schedule and runs the Manager when due.
type Runner struct {
	lock     Locker
	tracker  store.Tracker
	manager  *Manager
	syncLog  store.SyncLog
	recorder Recorder
	mode     int
	now      func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSyncLog records every executed sync in log.
func WithSyncLog(log store.SyncLog) RunnerOption {
	return func(r *Runner) { r.syncLog = log }
}

// WithRecorder publishes run outcomes to rec.
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithRunnerClock sets the runner's clock.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner for the given sync mode.
func NewRunner(lock Locker, tracker store.Tracker, manager *Manager, mode int, opts ...RunnerOption) *Runner {
	r := &Runner{
		lock:    lock,
		tracker: tracker,
		manager: manager,
		mode:    mode,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes one invocation. Every invocation consumes a run number, even
// one the schedule skips.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	log := zap.L().With(zap.String("component", "eventsync.runner"))

	if err := r.lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.lock.Release(); err != nil {
			log.Warn("eventsync: release run lock", zap.Error(err))
		}
	}()

	runNumber, err := r.tracker.NextRunNumber(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "eventsync: next run number")
	}
	if r.recorder != nil {
		r.recorder.SetRunNumber(runNumber)
	}
	log = log.With(zap.Int64("run", runNumber))

	report := &RunReport{RunNumber: runNumber}
	if !opts.Force && !ShouldSync(runNumber, r.mode) {
		log.Info("eventsync: not due, skipping sync", zap.Int("mode", r.mode))
		if r.recorder != nil {
			r.recorder.ObserveSkipped(r.now())
		}
		return report, nil
	}

	// Sync log writes outlive a cancelled run so no row is left running.
	logCtx := context.WithoutCancel(ctx)

	var logID string
	if r.syncLog != nil {
		logID, err = r.syncLog.Start(logCtx, runNumber)
		if err != nil {
			log.Warn("eventsync: sync log start failed", zap.Error(err))
		}
	}

	result, err := r.manager.Run(ctx)
	if err != nil {
		log.Error("eventsync: sync failed", zap.Error(err))
		if logID != "" {
			if logErr := r.syncLog.Fail(logCtx, logID, err.Error()); logErr != nil {
				log.Warn("eventsync: sync log fail failed", zap.Error(logErr))
			}
		}
		if r.recorder != nil {
			r.recorder.ObserveFailure(r.now())
		}
		return report, eris.Wrapf(err, "eventsync: run %d", runNumber)
	}

	result.RunNumber = runNumber
	report.Synced = true
	report.Result = result

	if logID != "" {
		if err := r.syncLog.Complete(logCtx, logID, result); err != nil {
			log.Warn("eventsync: sync log complete failed", zap.Error(err))
		}
	}
	if r.recorder != nil {
		r.recorder.ObserveSync(result)
	}
	return report, nil
}
