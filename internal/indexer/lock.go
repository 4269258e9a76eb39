package indexer

import (
	"sync/atomic"
	"time"
)

// IndexLock is a non-blocking mutex guarding one ingest run at a time. It
// remembers when the current run started so a rejected caller can say so.
type IndexLock struct {
	held    atomic.Bool
	started atomic.Int64 // unix nanos of the current holder
}

// TryAcquire takes the lock at now and reports whether it was free
func (l *IndexLock) TryAcquire(now time.Time) bool {
	if !l.held.CompareAndSwap(false, true) {
		return false
	}
	l.started.Store(now.UnixNano())
	return true
}

// HeldSince returns when the current holder acquired the lock
func (l *IndexLock) HeldSince() (time.Time, bool) {
	if !l.held.Load() {
		return time.Time{}, false
	}
	return time.Unix(0, l.started.Load()), true
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.held.Store(false)
}
