package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/event-ingest/internal/model"
	"github.com/sells-group/event-ingest/internal/store"
)

var collectNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type mockRuns struct {
	runs    []model.SyncRun
	listErr error
}

func (m *mockRuns) List(_ context.Context, _ store.RunFilter) ([]model.SyncRun, error) {
	return m.runs, m.listErr
}

type mockBacklog struct {
	n   int
	err error
}

func (m *mockBacklog) Count(context.Context) (int, error) { return m.n, m.err }

func completedRun(startedAgo time.Duration, synced int, errs ...model.RecordError) model.SyncRun {
	started := collectNow.Add(-startedAgo)
	done := started.Add(time.Minute)
	return model.SyncRun{
		Status:      model.RunStatusComplete,
		Synced:      synced,
		Duplicates:  1,
		Pruned:      2,
		Errors:      errs,
		StartedAt:   started,
		CompletedAt: &done,
	}
}

func newTestCollector(runs RunLister, staging BacklogCounter) *Collector {
	c := NewCollector(runs, staging)
	c.now = func() time.Time { return collectNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	runs := &mockRuns{runs: []model.SyncRun{
		completedRun(time.Hour, 5,
			model.RecordError{Kind: model.ErrorKindValidation},
			model.RecordError{Kind: model.ErrorKindTransient},
			model.RecordError{Kind: model.ErrorKindTransient},
		),
		completedRun(2*time.Hour, 3),
		{Status: model.RunStatusFailed, StartedAt: collectNow.Add(-3 * time.Hour)},
		{Status: model.RunStatusRunning, StartedAt: collectNow.Add(-time.Minute)},
		completedRun(72*time.Hour, 100), // outside window
	}}

	snap, err := newTestCollector(runs, &mockBacklog{n: 4}).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 0.001)
	assert.Equal(t, 8, snap.Synced)
	assert.Equal(t, 2, snap.Duplicates)
	assert.Equal(t, 4, snap.Pruned)
	assert.Equal(t, 1, snap.ValidationErrors)
	assert.Equal(t, 2, snap.TransientErrors)
	assert.Equal(t, 4, snap.StagedEvents)
	assert.Equal(t, 24, snap.LookbackHours)
	require.NotNil(t, snap.LastSuccess)
	assert.True(t, snap.LastSuccess.Equal(collectNow.Add(-time.Hour+time.Minute)))
}

func TestCollector_LastSuccessOutsideWindow(t *testing.T) {
	runs := &mockRuns{runs: []model.SyncRun{completedRun(100*time.Hour, 1)}}

	snap, err := newTestCollector(runs, nil).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.RunsTotal)
	require.NotNil(t, snap.LastSuccess)
	assert.Equal(t, -1, snap.StagedEvents)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := newTestCollector(&mockRuns{}, nil).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Nil(t, snap.LastSuccess)
}

func TestCollector_ListError(t *testing.T) {
	_, err := newTestCollector(&mockRuns{listErr: errors.New("db down")}, nil).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}

func TestCollector_BacklogError(t *testing.T) {
	_, err := newTestCollector(&mockRuns{}, &mockBacklog{err: errors.New("locked")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count staged events")
}
