package store

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/event-ingest/internal/config"
)

// OpenTracker returns the tracker backend selected by local.tracker_backend.
// The sqlite backend shares local's database file.
func OpenTracker(cfg *config.Config, local *SQLiteStore) (Tracker, error) {
	retention := cfg.Sync.Retention()
	switch cfg.Local.TrackerBackend {
	case "", "sqlite":
		if local == nil {
			return nil, eris.New("store: sqlite tracker needs the local store")
		}
		local.retention = retention
		return local.Tracker(), nil
	case "badger":
		return NewBadgerTracker(cfg.Local.TrackerPath, retention)
	case "file":
		return NewFileTracker(cfg.Local.TrackerPath, retention)
	default:
		return nil, eris.Errorf("store: unsupported tracker backend %q", cfg.Local.TrackerBackend)
	}
}
