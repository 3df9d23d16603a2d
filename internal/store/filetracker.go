package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/sells-group/event-ingest/internal/model"
)

// fileTrackerState is the on-disk layout of a FileTracker.
type fileTrackerState struct {
	RunCounter int64                         `json:"run_counter"`
	Entries    map[string]model.TrackerEntry `json:"entries"`
}

// FileTracker implements Tracker as a single JSON file. Every mutation
// rewrites the file through a temp file, fsync and rename, so a crash leaves
// either the old or the new state on disk.
type FileTracker struct {
	path      string
	retention time.Duration

	mu    sync.Mutex
	state fileTrackerState
}

// NewFileTracker loads path, starting empty if it does not exist.
func NewFileTracker(path string, retention time.Duration) (*FileTracker, error) {
	t := &FileTracker{
		path:      path,
		retention: retention,
		state:     fileTrackerState{Entries: make(map[string]model.TrackerEntry)},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "filetracker: read %s", path)
	}
	if err := json.Unmarshal(data, &t.state); err != nil {
		return nil, eris.Wrapf(err, "filetracker: parse %s", path)
	}
	if t.state.Entries == nil {
		t.state.Entries = make(map[string]model.TrackerEntry)
	}
	return t, nil
}

// Load implements Tracker.
func (t *FileTracker) Load(_ context.Context) (map[string]model.TrackerEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]model.TrackerEntry, len(t.state.Entries))
	for k, v := range t.state.Entries {
		out[k] = v
	}
	return out, nil
}

// Record implements Tracker.
func (t *FileTracker) Record(_ context.Context, entry model.TrackerEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, had := t.state.Entries[entry.ContentHash]
	t.state.Entries[entry.ContentHash] = entry
	if err := t.persist(); err != nil {
		if had {
			t.state.Entries[entry.ContentHash] = prev
		} else {
			delete(t.state.Entries, entry.ContentHash)
		}
		return err
	}
	return nil
}

// Prune implements Tracker.
func (t *FileTracker) Prune(_ context.Context, now time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := make(map[string]model.TrackerEntry, len(t.state.Entries))
	for k, e := range t.state.Entries {
		if !e.Expired(now, t.retention) {
			kept[k] = e
		}
	}
	pruned := len(t.state.Entries) - len(kept)
	if pruned == 0 {
		return 0, nil
	}

	old := t.state.Entries
	t.state.Entries = kept
	if err := t.persist(); err != nil {
		t.state.Entries = old
		return 0, err
	}
	return pruned, nil
}

// Len implements Tracker.
func (t *FileTracker) Len(_ context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.state.Entries), nil
}

// NextRunNumber implements Tracker.
func (t *FileTracker) NextRunNumber(_ context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.RunCounter++
	if err := t.persist(); err != nil {
		t.state.RunCounter--
		return 0, err
	}
	return t.state.RunCounter, nil
}

// CurrentRunNumber implements Tracker.
func (t *FileTracker) CurrentRunNumber(_ context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.RunCounter, nil
}

// Close implements Tracker.
func (t *FileTracker) Close() error {
	return nil
}

// persist writes the state atomically. Callers hold t.mu.
func (t *FileTracker) persist() error {
	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return eris.Wrap(err, "filetracker: marshal")
	}
	return writeFileAtomic(t.path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "filetracker: mkdir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "filetracker: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "filetracker: write temp file")
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "filetracker: chmod temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "filetracker: fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "filetracker: close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "filetracker: rename to %s", path)
	}

	// Persist the rename itself.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close() //nolint:errcheck
	}
	return nil
}

var _ Tracker = (*FileTracker)(nil)
