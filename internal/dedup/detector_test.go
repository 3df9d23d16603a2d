package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/event-ingest/internal/model"
	"github.com/sells-group/event-ingest/internal/resilience"
)

type fakeRemote struct {
	mu     sync.Mutex
	known  map[string]bool
	fail   map[string]error
	calls  map[string]int
	active int
	peak   int
	delay  time.Duration
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		known: map[string]bool{},
		fail:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *fakeRemote) Exists(_ context.Context, hash string) (bool, error) {
	f.mu.Lock()
	f.calls[hash]++
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	err, known := f.fail[hash], f.known[hash]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return known, err
}

func (f *fakeRemote) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func event(hash, title, date, location string) model.CanonicalEvent {
	return model.CanonicalEvent{
		Title:       title,
		Date:        date,
		Location:    location,
		Source:      "test",
		ContentHash: hash,
	}
}

func TestCheck_TrackerHit(t *testing.T) {
	remote := newFakeRemote()
	d := NewDetector(map[string]model.TrackerEntry{"h1": {ContentHash: "h1"}}, remote)

	v, err := d.Check(context.Background(), event("h1", "Jazz Night", "2026-03-01", "The Loft"), NewBatch())
	require.NoError(t, err)
	assert.Equal(t, ExactDuplicate, v)
	assert.Equal(t, 0, remote.totalCalls())
}

func TestCheck_SameHashEarlierInBatch(t *testing.T) {
	remote := newFakeRemote()
	d := NewDetector(nil, remote)
	batch := NewBatch()
	ev := event("h1", "Jazz Night", "2026-03-01", "The Loft")
	batch.Accept(ev)

	v, err := d.Check(context.Background(), ev, batch)
	require.NoError(t, err)
	assert.Equal(t, ExactDuplicate, v)
	assert.Equal(t, 0, remote.totalCalls())
}

func TestCheck_RemoteHit(t *testing.T) {
	remote := newFakeRemote()
	remote.known["h1"] = true
	d := NewDetector(nil, remote)

	v, err := d.Check(context.Background(), event("h1", "Jazz Night", "2026-03-01", "The Loft"), NewBatch())
	require.NoError(t, err)
	assert.Equal(t, ExactDuplicate, v)
}

func TestCheck_RemoteFailureIsTransient(t *testing.T) {
	remote := newFakeRemote()
	remote.fail["h1"] = errors.New("connection refused")
	d := NewDetector(nil, remote)

	_, err := d.Check(context.Background(), event("h1", "Jazz Night", "2026-03-01", "The Loft"), NewBatch())
	require.Error(t, err)

	var te *resilience.TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "exists", te.Op)
}

func TestCheck_RemoteTransientNotDoubleWrapped(t *testing.T) {
	remote := newFakeRemote()
	orig := resilience.NewTransientError(context.DeadlineExceeded, "exists")
	remote.fail["h1"] = orig
	d := NewDetector(nil, remote)

	_, err := d.Check(context.Background(), event("h1", "Jazz Night", "2026-03-01", "The Loft"), NewBatch())
	assert.Same(t, orig, err)
}

func TestCheck_FuzzyDuplicateSameDate(t *testing.T) {
	d := NewDetector(nil, newFakeRemote())
	batch := NewBatch()
	batch.Accept(event("h1", "Techno Warehouse Rave", "2026-03-01", "Warehouse 9"))

	v, err := d.Check(context.Background(), event("h2", "Techno Warehouse Rave!!", "2026-03-01", "Warehouse 9"), batch)
	require.NoError(t, err)
	assert.Equal(t, FuzzyDuplicate, v)
}

func TestCheck_DifferentDateNeverMerged(t *testing.T) {
	d := NewDetector(nil, newFakeRemote())
	batch := NewBatch()
	batch.Accept(event("h1", "Techno Warehouse Rave", "2026-03-01", "Warehouse 9"))

	v, err := d.Check(context.Background(), event("h2", "Techno Warehouse Rave", "2026-03-02", "Warehouse 9"), batch)
	require.NoError(t, err)
	assert.Equal(t, New, v)
}

func TestCheck_LocationBelowThreshold(t *testing.T) {
	d := NewDetector(nil, newFakeRemote())
	batch := NewBatch()
	batch.Accept(event("h1", "Techno Warehouse Rave", "2026-03-01", "Warehouse 9"))

	v, err := d.Check(context.Background(), event("h2", "Techno Warehouse Rave", "2026-03-01", "Madison Square Garden"), batch)
	require.NoError(t, err)
	assert.Equal(t, New, v)
}

func TestCheck_TitleBelowThreshold(t *testing.T) {
	d := NewDetector(nil, newFakeRemote())
	batch := NewBatch()
	batch.Accept(event("h1", "Techno Warehouse Rave", "2026-03-01", "Warehouse 9"))

	v, err := d.Check(context.Background(), event("h2", "Pottery Workshop", "2026-03-01", "Warehouse 9"), batch)
	require.NoError(t, err)
	assert.Equal(t, New, v)
}

func TestCheck_ThresholdTieIsDuplicate(t *testing.T) {
	d := NewDetector(nil, newFakeRemote(), WithThresholds(1.0, 1.0))
	batch := NewBatch()
	batch.Accept(event("h1", "Jazz Night", "2026-03-01", "The Loft"))

	v, err := d.Check(context.Background(), event("h2", "JAZZ night!", "2026-03-01", "the loft"), batch)
	require.NoError(t, err)
	assert.Equal(t, FuzzyDuplicate, v)
}

func TestCheck_NewEvent(t *testing.T) {
	remote := newFakeRemote()
	d := NewDetector(nil, remote)

	v, err := d.Check(context.Background(), event("h1", "Jazz Night", "2026-03-01", "The Loft"), NewBatch())
	require.NoError(t, err)
	assert.Equal(t, New, v)
	assert.Equal(t, 1, remote.calls["h1"])
}

func TestPrefetch_SkipsTrackerAndDuplicates(t *testing.T) {
	remote := newFakeRemote()
	remote.known["h2"] = true
	d := NewDetector(map[string]model.TrackerEntry{"h1": {ContentHash: "h1"}}, remote)

	require.NoError(t, d.Prefetch(context.Background(), []string{"h1", "h2", "h3", "h2"}, 4))
	assert.Equal(t, 0, remote.calls["h1"])
	assert.Equal(t, 1, remote.calls["h2"])
	assert.Equal(t, 1, remote.calls["h3"])

	// Check answers from the cache.
	v, err := d.Check(context.Background(), event("h2", "Jazz", "2026-03-01", "Loft"), NewBatch())
	require.NoError(t, err)
	assert.Equal(t, ExactDuplicate, v)
	assert.Equal(t, 2, remote.totalCalls())
}

func TestPrefetch_BoundedConcurrency(t *testing.T) {
	remote := newFakeRemote()
	remote.delay = 10 * time.Millisecond
	d := NewDetector(nil, remote)

	hashes := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	require.NoError(t, d.Prefetch(context.Background(), hashes, 2))
	assert.LessOrEqual(t, remote.peak, 2)
	assert.Equal(t, len(hashes), remote.totalCalls())
}

func TestPrefetch_FailureCachedAsTransient(t *testing.T) {
	remote := newFakeRemote()
	remote.fail["h1"] = errors.New("i/o timeout")
	d := NewDetector(nil, remote)

	require.NoError(t, d.Prefetch(context.Background(), []string{"h1"}, 1))

	_, err := d.Check(context.Background(), event("h1", "Jazz", "2026-03-01", "Loft"), NewBatch())
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 1, remote.calls["h1"])
}

func TestPrefetch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDetector(nil, newFakeRemote())

	assert.ErrorIs(t, d.Prefetch(ctx, []string{"h1"}, 1), context.Canceled)
}

func TestBatch_FirstSeenWins(t *testing.T) {
	b := NewBatch()
	b.Accept(event("h1", "First", "2026-03-01", "Loft"))
	b.Accept(event("h1", "Second", "2026-03-01", "Loft"))

	assert.Equal(t, 1, b.Len())
	require.Len(t, b.byDate["2026-03-01"], 1)
	assert.Equal(t, "First", b.byDate["2026-03-01"][0].Title)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "new", New.String())
	assert.Equal(t, "exact_duplicate", ExactDuplicate.String())
	assert.Equal(t, "fuzzy_duplicate", FuzzyDuplicate.String())
}
