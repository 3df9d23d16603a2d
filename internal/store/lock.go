package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrLocked is returned when another sync run holds the lock.
var ErrLocked = errors.New("store: another sync run holds the lock")

// RunLock serializes sync runs on one machine with an O_EXCL lock file. A
// lock whose file has not been touched for longer than the TTL is treated as
// abandoned and broken. While held, a heartbeat refreshes the file's mtime.
type RunLock struct {
	path string
	ttl  time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewRunLock creates a lock at path. It is not acquired yet.
func NewRunLock(path string, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RunLock{path: path, ttl: ttl}
}

// Acquire takes the lock or returns ErrLocked, also when this RunLock
// already holds it (a second trigger in the same serve process).
func (l *RunLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stop != nil {
		return ErrLocked
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, `{"pid":%d,"time":%d}`+"\n", os.Getpid(), time.Now().Unix())
			_ = f.Close()
			l.startHeartbeat()
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return eris.Wrapf(err, "store: create lock %s", l.path)
		}

		fi, err := os.Stat(l.path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return eris.Wrapf(err, "store: stat lock %s", l.path)
		}
		if age := time.Since(fi.ModTime()); age >= l.ttl {
			zap.L().Warn("store: breaking stale run lock",
				zap.String("path", l.path),
				zap.Duration("age", age),
			)
			if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return eris.Wrapf(err, "store: remove stale lock %s", l.path)
			}
			continue
		}
		return ErrLocked
	}
	return ErrLocked
}

// Release stops the heartbeat and removes the lock file.
func (l *RunLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stop == nil {
		return nil
	}
	close(l.stop)
	<-l.done
	l.stop, l.done = nil, nil

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "store: release lock %s", l.path)
	}
	return nil
}

func (l *RunLock) startHeartbeat() {
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	interval := l.ttl / 3
	stop, done := l.stop, l.done
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				now := time.Now()
				_ = os.Chtimes(l.path, now, now)
			}
		}
	}()
}
