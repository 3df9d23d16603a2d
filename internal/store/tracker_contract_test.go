package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/event-ingest/internal/model"
)

var pruneNow = time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)

func entry(hash, date string) model.TrackerEntry {
	return model.TrackerEntry{
		ContentHash: hash,
		Title:       "Event " + hash,
		Date:        date,
		AddedAt:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// runTrackerContract exercises behavior every Tracker backend must share.
// newTracker must return an empty tracker with the default 30-day retention.
func runTrackerContract(t *testing.T, newTracker func(t *testing.T) Tracker) {
	t.Run("empty", func(t *testing.T) {
		tr := newTracker(t)
		entries, err := tr.Load(context.Background())
		require.NoError(t, err)
		assert.Empty(t, entries)

		n, err := tr.Len(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("record and load", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		require.NoError(t, tr.Record(ctx, entry("h1", "2026-03-01")))
		require.NoError(t, tr.Record(ctx, entry("h2", "2026-03-02")))

		entries, err := tr.Load(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "2026-03-01", entries["h1"].Date)
		assert.Equal(t, "Event h2", entries["h2"].Title)
		assert.True(t, entries["h1"].AddedAt.Equal(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))
	})

	t.Run("record refreshes", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		require.NoError(t, tr.Record(ctx, entry("h1", "2026-03-01")))
		updated := entry("h1", "2026-03-05")
		updated.Title = "Renamed"
		require.NoError(t, tr.Record(ctx, updated))

		entries, err := tr.Load(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "Renamed", entries["h1"].Title)
		assert.Equal(t, "2026-03-05", entries["h1"].Date)
	})

	t.Run("prune removes only expired", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		// now - 30d = 2026-03-11.
		require.NoError(t, tr.Record(ctx, entry("old", "2026-03-01")))
		require.NoError(t, tr.Record(ctx, entry("boundary", "2026-03-11")))
		require.NoError(t, tr.Record(ctx, entry("recent", "2026-04-01")))
		require.NoError(t, tr.Record(ctx, entry("future", "2026-06-01")))

		n, err := tr.Prune(ctx, pruneNow)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		entries, err := tr.Load(ctx)
		require.NoError(t, err)
		assert.NotContains(t, entries, "old")
		assert.Contains(t, entries, "boundary")
		assert.Contains(t, entries, "recent")
		assert.Contains(t, entries, "future")

		n, err = tr.Prune(ctx, pruneNow)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("run counter starts at one", func(t *testing.T) {
		tr := newTracker(t)
		ctx := context.Background()

		cur, err := tr.CurrentRunNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), cur)

		n, err := tr.NextRunNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = tr.NextRunNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		cur, err = tr.CurrentRunNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), cur)
	})
}
