package store

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/sells-group/event-ingest/internal/model"
)

const (
	badgerTrackerPrefix = "tracker:"
	badgerRunCounterKey = "meta:run_counter"
)

// BadgerTracker implements Tracker on an embedded Badger database. Entries
// are stored as JSON under "tracker:<content_hash>".
type BadgerTracker struct {
	db        *badger.DB
	retention time.Duration
}

// NewBadgerTracker opens (or creates) a Badger tracker in dir.
func NewBadgerTracker(dir string, retention time.Duration) (*BadgerTracker, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Suppress BadgerDB logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, eris.Wrapf(err, "badger: open %s", dir)
	}
	return &BadgerTracker{db: db, retention: retention}, nil
}

func trackerKey(hash string) []byte {
	return []byte(badgerTrackerPrefix + hash)
}

// Load implements Tracker.
func (t *BadgerTracker) Load(_ context.Context) (map[string]model.TrackerEntry, error) {
	entries := make(map[string]model.TrackerEntry)
	err := t.db.View(func(txn *badger.Txn) error {
		return t.scan(txn, func(_ []byte, e model.TrackerEntry) error {
			entries[e.ContentHash] = e
			return nil
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "badger: load tracker")
	}
	return entries, nil
}

// Record implements Tracker.
func (t *BadgerTracker) Record(_ context.Context, entry model.TrackerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "badger: marshal tracker entry")
	}
	err = t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(trackerKey(entry.ContentHash), data)
	})
	return eris.Wrapf(err, "badger: record %s", entry.ContentHash)
}

// Prune implements Tracker. Expired keys are collected and deleted in one
// transaction.
func (t *BadgerTracker) Prune(_ context.Context, now time.Time) (int, error) {
	pruned := 0
	err := t.db.Update(func(txn *badger.Txn) error {
		var expired [][]byte
		err := t.scan(txn, func(key []byte, e model.TrackerEntry) error {
			if e.Expired(now, t.retention) {
				expired = append(expired, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range expired {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		pruned = len(expired)
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "badger: prune")
	}
	return pruned, nil
}

// Len implements Tracker.
func (t *BadgerTracker) Len(_ context.Context) (int, error) {
	n := 0
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerTrackerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "badger: count tracker")
	}
	return n, nil
}

// NextRunNumber implements Tracker.
func (t *BadgerTracker) NextRunNumber(_ context.Context) (int64, error) {
	var next int64
	err := t.db.Update(func(txn *badger.Txn) error {
		cur, err := readCounter(txn)
		if err != nil {
			return err
		}
		next = cur + 1
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(next))
		return txn.Set([]byte(badgerRunCounterKey), buf)
	})
	if err != nil {
		return 0, eris.Wrap(err, "badger: next run number")
	}
	return next, nil
}

// CurrentRunNumber implements Tracker.
func (t *BadgerTracker) CurrentRunNumber(_ context.Context) (int64, error) {
	var cur int64
	err := t.db.View(func(txn *badger.Txn) error {
		var err error
		cur, err = readCounter(txn)
		return err
	})
	if err != nil {
		return 0, eris.Wrap(err, "badger: current run number")
	}
	return cur, nil
}

// Close implements Tracker.
func (t *BadgerTracker) Close() error {
	return t.db.Close()
}

func (t *BadgerTracker) scan(txn *badger.Txn, fn func(key []byte, e model.TrackerEntry) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := []byte(badgerTrackerPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var e model.TrackerEntry
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
		if err != nil {
			return eris.Wrapf(err, "decode %s", item.Key())
		}
		if err := fn(item.KeyCopy(nil), e); err != nil {
			return err
		}
	}
	return nil
}

func readCounter(txn *badger.Txn) (int64, error) {
	item, err := txn.Get([]byte(badgerRunCounterKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var cur int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return eris.Errorf("run counter has %d bytes, want 8", len(val))
		}
		cur = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return cur, err
}

var _ Tracker = (*BadgerTracker)(nil)
