// Package ledger implements the in-memory incremental stats ledger:
// (count, total-size) per (bucket, status), plus a global aggregate,
// kept in lockstep with the store's durable transitions.
package ledger

import (
	"sync"

	"github.com/moisa13/file-copy/internal/model"
)

type key struct {
	bucketID int64
	status   model.EntryStatus
}

// Ledger is the owned-by-the-store aggregate. The store calls its
// mutation methods while holding its own write-serialization lock; every
// method, mutating or reading, also takes the ledger's internal mutex, so
// Stats and GlobalStats are safe for concurrent readers (schedulers,
// control-plane) that do not coordinate with writers.
type Ledger struct {
	mu     sync.RWMutex
	byKey  map[key]model.StatusCounts
	global map[model.EntryStatus]model.StatusCounts
}

// New returns an empty ledger. Callers normally follow with Rebuild to
// seed it from the ground truth at startup.
func New() *Ledger {
	return &Ledger{
		byKey:  make(map[key]model.StatusCounts),
		global: make(map[model.EntryStatus]model.StatusCounts),
	}
}

// Add applies a (+count, +size) delta for one (bucket, status) pair and
// the matching global aggregate. Negative deltas subtract (used by
// transitions moving a row out of a status).
func (l *Ledger) Add(bucketID int64, status model.EntryStatus, count, size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{bucketID: bucketID, status: status}
	sc := l.byKey[k]
	sc.Count += count
	sc.TotalSize += size
	l.byKey[k] = sc

	gc := l.global[status]
	gc.Count += count
	gc.TotalSize += size
	l.global[status] = gc
}

// Move is a convenience for a terminal transition: subtract from one
// status and add to another for the same bucket and size, matching a
// single row's move from `from` to `to`.
func (l *Ledger) Move(bucketID int64, from, to model.EntryStatus, size int64) {
	l.Add(bucketID, from, -1, -size)
	l.Add(bucketID, to, 1, size)
}

// Stats returns a snapshot for one bucket, keyed by status. O(1) —
// no table scan.
func (l *Ledger) Stats(bucketID int64) map[model.EntryStatus]model.StatusCounts {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[model.EntryStatus]model.StatusCounts)
	for k, v := range l.byKey {
		if k.bucketID == bucketID {
			out[k.status] = v
		}
	}
	return out
}

// GlobalStats returns the global snapshot, keyed by status.
func (l *Ledger) GlobalStats() map[model.EntryStatus]model.StatusCounts {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[model.EntryStatus]model.StatusCounts, len(l.global))
	for k, v := range l.global {
		out[k] = v
	}
	return out
}

// Rebuild replaces the ledger contents wholesale from a ground-truth
// aggregate (a GROUP BY over the queue table). This is the reconciliation
// oracle used to recover from any drift, and must be a no-op under
// steady state.
func (l *Ledger) Rebuild(rows []Row) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.byKey = make(map[key]model.StatusCounts, len(rows))
	l.global = make(map[model.EntryStatus]model.StatusCounts)

	for _, r := range rows {
		l.byKey[key{bucketID: r.BucketID, status: r.Status}] = model.StatusCounts{Count: r.Count, TotalSize: r.TotalSize}

		gc := l.global[r.Status]
		gc.Count += r.Count
		gc.TotalSize += r.TotalSize
		l.global[r.Status] = gc
	}
}

// DropBucket removes every entry for bucketID, used when a bucket (and
// its queue rows) is deleted.
func (l *Ledger) DropBucket(bucketID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, v := range l.byKey {
		if k.bucketID == bucketID {
			gc := l.global[k.status]
			gc.Count -= v.Count
			gc.TotalSize -= v.TotalSize
			l.global[k.status] = gc
			delete(l.byKey, k)
		}
	}
}

// Row is one (bucket, status) aggregate row, as produced by a GROUP BY
// over the queue table, used to Rebuild the ledger from ground truth.
type Row struct {
	BucketID  int64
	Status    model.EntryStatus
	Count     int64
	TotalSize int64
}
