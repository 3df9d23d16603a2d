// Package dedup decides whether a normalized event has been seen before:
// in the local tracker, in the remote store, or earlier in the same batch.
package dedup

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/event-ingest/internal/model"
	"github.com/sells-group/event-ingest/internal/resilience"
)

// Default similarity thresholds. A score equal to the threshold matches.
const (
	DefaultTitleThreshold    = 0.85
	DefaultLocationThreshold = 0.70
)

// Verdict is the outcome of a duplicate check.
type Verdict int

const (
	New Verdict = iota
	ExactDuplicate
	FuzzyDuplicate
)

func (v Verdict) String() string {
	switch v {
	case ExactDuplicate:
		return "exact_duplicate"
	case FuzzyDuplicate:
		return "fuzzy_duplicate"
	default:
		return "new"
	}
}

// RemoteLookup answers whether the remote store already holds a content hash.
type RemoteLookup interface {
	Exists(ctx context.Context, contentHash string) (bool, error)
}

// Batch holds the events accepted so far in one sync run. Accepted events
// are indexed by content hash and by date; the first one seen wins.
type Batch struct {
	byHash map[string]struct{}
	byDate map[string][]model.CanonicalEvent
	n      int
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{
		byHash: make(map[string]struct{}),
		byDate: make(map[string][]model.CanonicalEvent),
	}
}

// Accept adds ev to the batch.
func (b *Batch) Accept(ev model.CanonicalEvent) {
	if _, ok := b.byHash[ev.ContentHash]; ok {
		return
	}
	b.byHash[ev.ContentHash] = struct{}{}
	b.byDate[ev.Date] = append(b.byDate[ev.Date], ev)
	b.n++
}

// Len returns the number of accepted events.
func (b *Batch) Len() int {
	return b.n
}

type remoteAnswer struct {
	exists bool
	err    error
}

// Detector runs the layered duplicate check. It is built once per sync run
// over a snapshot of the tracker.
type Detector struct {
	tracker           map[string]model.TrackerEntry
	remote            RemoteLookup
	titleThreshold    float64
	locationThreshold float64
	log               *zap.Logger

	mu    sync.Mutex
	cache map[string]remoteAnswer
}

// Option configures a Detector.
type Option func(*Detector)

// WithThresholds overrides the fuzzy thresholds. Values outside (0, 1] are ignored.
func WithThresholds(title, location float64) Option {
	return func(d *Detector) {
		if title > 0 && title <= 1 {
			d.titleThreshold = title
		}
		if location > 0 && location <= 1 {
			d.locationThreshold = location
		}
	}
}

// NewDetector creates a Detector over the loaded tracker entries.
func NewDetector(tracker map[string]model.TrackerEntry, remote RemoteLookup, opts ...Option) *Detector {
	if tracker == nil {
		tracker = map[string]model.TrackerEntry{}
	}
	d := &Detector{
		tracker:           tracker,
		remote:            remote,
		titleThreshold:    DefaultTitleThreshold,
		locationThreshold: DefaultLocationThreshold,
		log:               zap.L().With(zap.String("component", "dedup")),
		cache:             make(map[string]remoteAnswer),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Prefetch asks the remote store about every hash the tracker does not know,
// at most limit lookups at a time. Answers and failures are cached per hash
// and returned by Check; Prefetch itself only fails if ctx is cancelled.
func (d *Detector) Prefetch(ctx context.Context, hashes []string, limit int) error {
	if limit <= 0 {
		limit = 1
	}

	seen := make(map[string]struct{}, len(hashes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, h := range hashes {
		if _, ok := d.tracker[h]; ok {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			exists, err := d.remote.Exists(gctx, h)
			d.store(h, remoteAnswer{exists: exists, err: err})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	d.log.Debug("dedup: prefetched remote lookups", zap.Int("hashes", len(seen)))
	return ctx.Err()
}

// Check classifies ev against the tracker, the events accepted earlier in
// batch and the remote store, in that order, then falls back to fuzzy
// matching against batch events on the same date. Check does not add ev to
// batch. A remote lookup failure is returned as *resilience.TransientError.
func (d *Detector) Check(ctx context.Context, ev model.CanonicalEvent, batch *Batch) (Verdict, error) {
	if _, ok := d.tracker[ev.ContentHash]; ok {
		return ExactDuplicate, nil
	}
	if _, ok := batch.byHash[ev.ContentHash]; ok {
		return ExactDuplicate, nil
	}

	exists, err := d.lookup(ctx, ev.ContentHash)
	if err != nil {
		return New, err
	}
	if exists {
		return ExactDuplicate, nil
	}

	for _, prior := range batch.byDate[ev.Date] {
		title := TokenSetRatio(ev.Title, prior.Title)
		if title < d.titleThreshold {
			continue
		}
		loc := TokenSetRatio(ev.Location, prior.Location)
		if loc < d.locationThreshold {
			continue
		}
		d.log.Debug("dedup: fuzzy duplicate",
			zap.String("title", ev.Title),
			zap.String("matched_title", prior.Title),
			zap.String("date", ev.Date),
			zap.Float64("title_score", title),
			zap.Float64("location_score", loc),
		)
		return FuzzyDuplicate, nil
	}
	return New, nil
}

func (d *Detector) lookup(ctx context.Context, hash string) (bool, error) {
	d.mu.Lock()
	ans, ok := d.cache[hash]
	d.mu.Unlock()

	if !ok {
		exists, err := d.remote.Exists(ctx, hash)
		ans = remoteAnswer{exists: exists, err: err}
		d.store(hash, ans)
	}
	if ans.err != nil {
		var te *resilience.TransientError
		if errors.As(ans.err, &te) {
			return false, ans.err
		}
		return false, resilience.NewTransientError(ans.err, "exists")
	}
	return ans.exists, nil
}

func (d *Detector) store(hash string, ans remoteAnswer) {
	d.mu.Lock()
	d.cache[hash] = ans
	d.mu.Unlock()
}
