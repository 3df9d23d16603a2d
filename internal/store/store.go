// Package store holds the pipeline's durable state: the shared remote event
// store and sync log (Postgres), the local staging buffer, and the run tracker.
package store

import (
	"context"
	"time"

	"github.com/sells-group/event-ingest/internal/model"
)

// InsertResult is the outcome of writing one event to the remote store.
type InsertResult int

const (
	// Inserted means the row was written by this call.
	Inserted InsertResult = iota
	// AlreadyExists means a row with the same content hash was already present.
	AlreadyExists
)

func (r InsertResult) String() string {
	if r == AlreadyExists {
		return "already_exists"
	}
	return "inserted"
}

// EventStore is the shared remote store. Both methods must be safe to call
// concurrently from several processes; the store's uniqueness constraint on
// content_hash is the last line of duplicate defense.
type EventStore interface {
	Exists(ctx context.Context, contentHash string) (bool, error)
	Insert(ctx context.Context, ev model.CanonicalEvent) (InsertResult, error)
}

// Staging is the append-only buffer scrapers write raw events to.
type Staging interface {
	// Append stores raw events and returns their assigned IDs in order.
	Append(ctx context.Context, events []model.RawEvent) ([]int64, error)
	// Load returns every staged event in append order.
	Load(ctx context.Context) ([]model.StagedEvent, error)
	// Remove deletes exactly the given IDs and returns how many existed.
	Remove(ctx context.Context, ids []int64) (int, error)
	Count(ctx context.Context) (int, error)
}

// Tracker is the local memory of synced events plus the run counter.
type Tracker interface {
	// Load returns all entries keyed by content hash.
	Load(ctx context.Context) (map[string]model.TrackerEntry, error)
	// Record adds or refreshes the entry for a synced event.
	Record(ctx context.Context, entry model.TrackerEntry) error
	// Prune deletes entries whose date plus the retention window is before now.
	Prune(ctx context.Context, now time.Time) (int, error)
	Len(ctx context.Context) (int, error)
	// NextRunNumber atomically increments and returns the run counter. The
	// first call returns 1.
	NextRunNumber(ctx context.Context) (int64, error)
	// CurrentRunNumber returns the last issued run number, 0 if none.
	CurrentRunNumber(ctx context.Context) (int64, error)
	Close() error
}

// RunFilter specifies criteria for listing sync runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// SyncLog records every executed sync in the remote store.
type SyncLog interface {
	Start(ctx context.Context, runNumber int64) (string, error)
	Complete(ctx context.Context, id string, result *model.SyncResult) error
	Fail(ctx context.Context, id string, errMsg string) error
	List(ctx context.Context, filter RunFilter) ([]model.SyncRun, error)
}

// DefaultRetention is how long tracker entries outlive their event date.
const DefaultRetention = 30 * 24 * time.Hour
