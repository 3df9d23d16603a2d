package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/event-ingest/internal/config"
)

func trackerConfig(backend, path string) *config.Config {
	return &config.Config{
		Local: config.LocalConfig{TrackerBackend: backend, TrackerPath: path},
		Sync:  config.SyncConfig{RetentionDays: 7},
	}
}

func TestOpenTracker(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		backend string
		path    string
		want    any
	}{
		{backend: "", want: &SQLiteTracker{}},
		{backend: "sqlite", want: &SQLiteTracker{}},
		{backend: "badger", path: filepath.Join(dir, "badger"), want: &BadgerTracker{}},
		{backend: "file", path: filepath.Join(dir, "tracker.json"), want: &FileTracker{}},
	}

	for _, tt := range tests {
		t.Run("backend="+tt.backend, func(t *testing.T) {
			local := newTestSQLiteStore(t)
			tr, err := OpenTracker(trackerConfig(tt.backend, tt.path), local)
			require.NoError(t, err)
			t.Cleanup(func() { tr.Close() }) //nolint:errcheck
			assert.IsType(t, tt.want, tr)
		})
	}
}

func TestOpenTracker_SQLiteAppliesRetention(t *testing.T) {
	local := newTestSQLiteStore(t)
	_, err := OpenTracker(trackerConfig("sqlite", ""), local)
	require.NoError(t, err)
	assert.Equal(t, 7*24*60*60, int(local.retention.Seconds()))
}

func TestOpenTracker_Errors(t *testing.T) {
	_, err := OpenTracker(trackerConfig("sqlite", ""), nil)
	require.Error(t, err)

	_, err = OpenTracker(trackerConfig("redis", ""), newTestSQLiteStore(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported tracker backend")
}
