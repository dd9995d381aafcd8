// Package manager is the Bucket Manager: it owns the bucket -> scheduler
// map, delegates lifecycle commands, and is the one place that creates,
// updates, and deletes buckets so the store and the live scheduler set
// never drift apart.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moisa13/file-copy/internal/eventbus"
	"github.com/moisa13/file-copy/internal/logging"
	"github.com/moisa13/file-copy/internal/model"
	"github.com/moisa13/file-copy/internal/scheduler"
	"github.com/moisa13/file-copy/internal/store"
	"github.com/moisa13/file-copy/pkg/bucketerrors"
)

// Manager owns every bucket's Scheduler for the process's lifetime.
type Manager struct {
	st           *store.Store
	bus          *eventbus.Bus
	log          logging.Logger
	schedulerCfg scheduler.Config
	stopTimeout  time.Duration

	mu         sync.RWMutex
	schedulers map[int64]*scheduler.Scheduler
}

// New constructs a Manager. Call LoadExisting to resume buckets already
// present in the store (e.g. after a restart).
func New(st *store.Store, bus *eventbus.Bus, log logging.Logger, schedulerCfg scheduler.Config, stopTimeout time.Duration) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	return &Manager{
		st:           st,
		bus:          bus,
		log:          log,
		schedulerCfg: schedulerCfg,
		stopTimeout:  stopTimeout,
		schedulers:   make(map[int64]*scheduler.Scheduler),
	}
}

// LoadExisting constructs a Scheduler for every bucket already in the
// store, without starting them; buckets persisted as running resume
// automatically, matching the status they were in before the last
// shutdown.
func (m *Manager) LoadExisting(ctx context.Context) error {
	buckets, err := m.st.ListBuckets()
	if err != nil {
		return fmt.Errorf("manager: list buckets: %w", err)
	}

	for _, b := range buckets {
		wasRunning := b.Status == model.BucketRunning
		// The scheduler itself always starts stopped; buckets.status in
		// the store only reflects the last known intent, not a live
		// dispatch loop, so resetting it here keeps the two in sync
		// until (if) this bucket is actually resumed below.
		if err := m.st.UpdateBucketStatus(b.ID, model.BucketStopped); err != nil {
			return fmt.Errorf("manager: reset bucket %d status: %w", b.ID, err)
		}
		b.Status = model.BucketStopped

		sched := scheduler.New(b, m.st, m.bus, m.log, m.schedulerCfg)

		m.mu.Lock()
		m.schedulers[b.ID] = sched
		m.mu.Unlock()

		if wasRunning {
			if err := sched.Start(ctx); err != nil {
				return fmt.Errorf("manager: resume bucket %d: %w", b.ID, err)
			}
		}
	}

	return nil
}

// CreateBucket persists a new bucket and constructs its (stopped)
// Scheduler.
func (m *Manager) CreateBucket(name string, sourceRoots []string, destination string, workerCount int) (model.Bucket, error) {
	b, err := m.st.CreateBucket(name, sourceRoots, destination, workerCount)
	if err != nil {
		return model.Bucket{}, err
	}

	sched := scheduler.New(b, m.st, m.bus, m.log, m.schedulerCfg)
	m.mu.Lock()
	m.schedulers[b.ID] = sched
	m.mu.Unlock()

	return b, nil
}

// UpdateSources changes a bucket's source roots and destination. The
// bucket must be stopped. Its scheduler is rebuilt from the updated row,
// since a Scheduler keeps the source list it was constructed with.
func (m *Manager) UpdateSources(bucketID int64, sourceRoots []string, destination string) error {
	sched, err := m.lookup(bucketID)
	if err != nil {
		return err
	}
	if sched.Status() != model.BucketStopped {
		return bucketerrors.ErrSchedulerRunning
	}
	if err := m.st.UpdateBucketSources(bucketID, sourceRoots, destination); err != nil {
		return err
	}

	b, err := m.st.GetBucket(bucketID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.schedulers[bucketID] = scheduler.New(b, m.st, m.bus, m.log, m.schedulerCfg)
	m.mu.Unlock()
	return nil
}

// UpdateWorkerCount changes a bucket's worker cap live.
func (m *Manager) UpdateWorkerCount(bucketID int64, workerCount int) error {
	sched, err := m.lookup(bucketID)
	if err != nil {
		return err
	}
	if err := m.st.UpdateBucketWorkerCount(bucketID, workerCount); err != nil {
		return err
	}
	sched.SetWorkerCount(workerCount)
	return nil
}

// DeleteBucket stops (if needed) and removes a bucket entirely.
func (m *Manager) DeleteBucket(bucketID int64) error {
	sched, err := m.lookup(bucketID)
	if err != nil {
		return err
	}
	if sched.Status() != model.BucketStopped {
		if err := sched.Stop(m.stopTimeout); err != nil {
			return err
		}
	}

	if err := m.st.DeleteBucket(bucketID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.schedulers, bucketID)
	m.mu.Unlock()

	return nil
}

// Start, Pause, Resume, and Stop delegate straight to the named bucket's
// Scheduler.

func (m *Manager) Start(ctx context.Context, bucketID int64) error {
	sched, err := m.lookup(bucketID)
	if err != nil {
		return err
	}
	return sched.Start(ctx)
}

func (m *Manager) Pause(bucketID int64) error {
	sched, err := m.lookup(bucketID)
	if err != nil {
		return err
	}
	return sched.Pause()
}

func (m *Manager) Resume(bucketID int64) error {
	sched, err := m.lookup(bucketID)
	if err != nil {
		return err
	}
	return sched.Resume()
}

func (m *Manager) Stop(bucketID int64) error {
	sched, err := m.lookup(bucketID)
	if err != nil {
		return err
	}
	return sched.Stop(m.stopTimeout)
}

// StopAll stops every bucket's scheduler concurrently, for graceful
// service shutdown.
func (m *Manager) StopAll() {
	m.mu.RLock()
	scheds := make([]*scheduler.Scheduler, 0, len(m.schedulers))
	for _, sched := range m.schedulers {
		scheds = append(scheds, sched)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sched := range scheds {
		sched := sched
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.Stop(m.stopTimeout); err != nil {
				logging.System(m.log, fmt.Sprintf("manager: stop error: %v", err))
			}
		}()
	}
	wg.Wait()
}

// BucketStatus reports the live operational status of a bucket's
// scheduler (which may lag the store's persisted status by the duration
// of an in-flight command).
func (m *Manager) BucketStatus(bucketID int64) (model.BucketStatus, error) {
	sched, err := m.lookup(bucketID)
	if err != nil {
		return "", err
	}
	return sched.Status(), nil
}

func (m *Manager) lookup(bucketID int64) (*scheduler.Scheduler, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sched, ok := m.schedulers[bucketID]
	if !ok {
		return nil, bucketerrors.ErrBucketNotFound
	}
	return sched, nil
}
