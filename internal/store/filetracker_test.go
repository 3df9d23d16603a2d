package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTracker_TrackerContract(t *testing.T) {
	runTrackerContract(t, func(t *testing.T) Tracker {
		tr, err := NewFileTracker(filepath.Join(t.TempDir(), "tracker.json"), DefaultRetention)
		require.NoError(t, err)
		return tr
	})
}

func TestFileTracker_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "tracker.json")
	ctx := context.Background()

	tr, err := NewFileTracker(path, DefaultRetention)
	require.NoError(t, err)
	require.NoError(t, tr.Record(ctx, entry("h1", "2026-03-01")))
	_, err = tr.NextRunNumber(ctx)
	require.NoError(t, err)
	_, err = tr.NextRunNumber(ctx)
	require.NoError(t, err)

	reloaded, err := NewFileTracker(path, DefaultRetention)
	require.NoError(t, err)

	entries, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, entries, "h1")

	cur, err := reloaded.CurrentRunNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur)
}

func TestFileTracker_OnDiskFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.json")
	ctx := context.Background()

	tr, err := NewFileTracker(path, DefaultRetention)
	require.NoError(t, err)
	require.NoError(t, tr.Record(ctx, entry("h1", "2026-03-01")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var state fileTrackerState
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, int64(0), state.RunCounter)
	assert.Equal(t, "2026-03-01", state.Entries["h1"].Date)
}

func TestFileTracker_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.json")
	ctx := context.Background()

	tr, err := NewFileTracker(path, DefaultRetention)
	require.NoError(t, err)
	for _, h := range []string{"a", "b", "c"} {
		require.NoError(t, tr.Record(ctx, entry(h, "2026-03-01")))
	}

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "tracker.json", files[0].Name())
}

func TestFileTracker_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileTracker(path, DefaultRetention)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filetracker: parse")
}

func TestFileTracker_FailedWriteRollsBack(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.json")
	ctx := context.Background()

	tr, err := NewFileTracker(path, DefaultRetention)
	require.NoError(t, err)
	require.NoError(t, tr.Record(ctx, entry("h1", "2026-03-01")))

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { os.Chmod(dir, 0o755) }) //nolint:errcheck

	require.Error(t, tr.Record(ctx, entry("h2", "2026-03-02")))
	_, err = tr.NextRunNumber(ctx)
	require.Error(t, err)

	n, err := tr.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	cur, err := tr.CurrentRunNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cur)
}
