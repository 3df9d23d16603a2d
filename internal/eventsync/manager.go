// Package eventsync runs the sync pass: normalize every staged event, drop
// duplicates, write the rest to the remote store, update the tracker and
// clear what was resolved from staging.
package eventsync

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/event-ingest/internal/dedup"
	"github.com/sells-group/event-ingest/internal/model"
	"github.com/sells-group/event-ingest/internal/normalize"
	"github.com/sells-group/event-ingest/internal/resilience"
	"github.com/sells-group/event-ingest/internal/store"
)

// DefaultLookupConcurrency bounds concurrent remote existence lookups.
const DefaultLookupConcurrency = 8

// Manager executes one sync pass over the staging buffer.
type Manager struct {
	staging    store.Staging
	tracker    store.Tracker
	remote     store.EventStore
	normalizer *normalize.Normalizer

	lookupConcurrency int
	titleThreshold    float64
	locationThreshold float64
	now               func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLookupConcurrency sets how many remote lookups run at once.
func WithLookupConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.lookupConcurrency = n
		}
	}
}

// WithThresholds sets the fuzzy duplicate thresholds.
func WithThresholds(title, location float64) ManagerOption {
	return func(m *Manager) {
		m.titleThreshold = title
		m.locationThreshold = location
	}
}

// WithNow sets the clock used for tracker entries, pruning and timestamps.
func WithNow(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. remote is expected to apply its own
// timeouts and retries (see store.GuardedEventStore).
func NewManager(staging store.Staging, tracker store.Tracker, remote store.EventStore, normalizer *normalize.Normalizer, opts ...ManagerOption) *Manager {
	m := &Manager{
		staging:           staging,
		tracker:           tracker,
		remote:            remote,
		normalizer:        normalizer,
		lookupConcurrency: DefaultLookupConcurrency,
		titleThreshold:    dedup.DefaultTitleThreshold,
		locationThreshold: dedup.DefaultLocationThreshold,
		now:               time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// normalized pairs a canonical event with the staging record it came from.
type normalized struct {
	stagedID int64
	event    model.CanonicalEvent
}

// Run performs one pass. Per-record problems are reported in the result and
// never abort the pass. An error is returned only when local state (staging
// or tracker) cannot be read or written; in that case nothing is removed
// from staging.
func (m *Manager) Run(ctx context.Context) (*model.SyncResult, error) {
	log := zap.L().With(zap.String("component", "eventsync.manager"))
	result := &model.SyncResult{StartedAt: m.now().UTC()}

	// 1. Load.
	staged, err := m.staging.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "eventsync: load staging")
	}
	if len(staged) == 0 {
		result.FinishedAt = m.now().UTC()
		log.Info("eventsync: staging empty, nothing to sync")
		return result, nil
	}

	// resolved collects staging IDs that are safe to remove: written,
	// duplicate or permanently invalid.
	resolved := make([]int64, 0, len(staged))

	// 2. Normalize all.
	events := make([]normalized, 0, len(staged))
	for _, se := range staged {
		ev, err := m.normalizer.Normalize(se.Raw)
		if err != nil {
			result.Errors = append(result.Errors, model.RecordError{
				StagedID: se.ID,
				Kind:     model.ErrorKindValidation,
				Title:    se.Raw.Title,
				Source:   se.Raw.Source,
				Reason:   err.Error(),
			})
			resolved = append(resolved, se.ID)
			continue
		}
		events = append(events, normalized{stagedID: se.ID, event: ev})
	}

	// 3. Dedupe all.
	entries, err := m.tracker.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "eventsync: load tracker")
	}
	detector := dedup.NewDetector(entries, m.remote, dedup.WithThresholds(m.titleThreshold, m.locationThreshold))

	hashes := make([]string, len(events))
	for i, n := range events {
		hashes[i] = n.event.ContentHash
	}
	if err := detector.Prefetch(ctx, hashes, m.lookupConcurrency); err != nil {
		return nil, eris.Wrap(err, "eventsync: prefetch remote lookups")
	}

	batch := dedup.NewBatch()
	accepted := make([]normalized, 0, len(events))
	for _, n := range events {
		verdict, err := detector.Check(ctx, n.event, batch)
		if err != nil {
			result.Errors = append(result.Errors, transientError(n, err))
			continue
		}
		switch verdict {
		case dedup.ExactDuplicate:
			result.ExactDuplicates++
			resolved = append(resolved, n.stagedID)
		case dedup.FuzzyDuplicate:
			result.FuzzyDuplicates++
			resolved = append(resolved, n.stagedID)
		default:
			batch.Accept(n.event)
			accepted = append(accepted, n)
		}
	}

	// 4. Write all.
	written := make([]normalized, 0, len(accepted))
	for _, n := range accepted {
		res, err := m.remote.Insert(ctx, n.event)
		if err != nil {
			// Any write failure leaves the record staged for the next run.
			result.Errors = append(result.Errors, transientError(n, err))
			if !resilience.IsTransient(err) {
				log.Error("eventsync: insert failed", zap.String("hash", n.event.ContentHash), zap.Error(err))
			}
			continue
		}
		if res == store.AlreadyExists {
			result.ExactDuplicates++
		} else {
			result.Synced++
		}
		written = append(written, n)
	}

	// 5. Track confirmed writes.
	now := m.now()
	for _, n := range written {
		if err := m.tracker.Record(ctx, model.NewTrackerEntry(n.event, now)); err != nil {
			return nil, eris.Wrapf(err, "eventsync: record tracker entry %s", n.event.ContentHash)
		}
		resolved = append(resolved, n.stagedID)
	}

	// 6. Prune.
	pruned, err := m.tracker.Prune(ctx, now)
	if err != nil {
		return nil, eris.Wrap(err, "eventsync: prune tracker")
	}
	result.PastEventsPruned = pruned

	// 7. Clear what was resolved.
	if _, err := m.staging.Remove(ctx, resolved); err != nil {
		return nil, eris.Wrap(err, "eventsync: clear staging")
	}

	// 8. Report.
	result.DuplicatesRemoved = result.ExactDuplicates + result.FuzzyDuplicates
	result.FinishedAt = m.now().UTC()

	log.Info("eventsync: sync complete",
		zap.Int("staged", len(staged)),
		zap.Int("synced", result.Synced),
		zap.Int("exact_duplicates", result.ExactDuplicates),
		zap.Int("fuzzy_duplicates", result.FuzzyDuplicates),
		zap.Int("pruned", result.PastEventsPruned),
		zap.Int("validation_errors", result.ValidationErrors()),
		zap.Int("transient_errors", result.TransientErrors()),
		zap.Int("cleared", len(resolved)),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, nil
}

func transientError(n normalized, err error) model.RecordError {
	return model.RecordError{
		StagedID: n.stagedID,
		Kind:     model.ErrorKindTransient,
		Title:    n.event.Title,
		Source:   n.event.Source,
		Reason:   err.Error(),
	}
}
