// Package scheduler is the per-bucket Bucket Scheduler: a claim+dispatch
// loop bound by the bucket's worker cap, sticky to one source folder at
// a time so a single interrupted directory finishes before the next one
// starts, with a pause/resume/stop state machine built around a
// ticker-driven claim+dispatch loop and a live-resizable claim budget
// in place of a fixed worker pool.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/moisa13/file-copy/internal/copier"
	"github.com/moisa13/file-copy/internal/eventbus"
	"github.com/moisa13/file-copy/internal/logging"
	"github.com/moisa13/file-copy/internal/model"
	"github.com/moisa13/file-copy/internal/store"
	"github.com/moisa13/file-copy/pkg/bucketerrors"
)

// Config carries the scheduler's operational knobs, sourced from the
// service's configuration.
type Config struct {
	ClaimBatchLimit int
	ActiveInterval  time.Duration
	IdleInterval    time.Duration
	ClaimLease      time.Duration
	Copier          copier.Config
}

// Scheduler drives one bucket's claim+dispatch loop. A Scheduler is
// created once per bucket and lives for the process's lifetime; Start,
// Pause, Resume, and Stop just toggle its internal state machine so the
// manager doesn't need to re-create it on every command.
type Scheduler struct {
	bucketID    int64
	instanceID  string
	sourceRoots []string
	st          *store.Store
	bus         *eventbus.Bus
	log         logging.Logger
	cfg         Config

	mu            sync.Mutex
	status        model.BucketStatus
	bucketName    string
	workerCount   int
	loopCtx       context.Context
	loopCancel    context.CancelFunc
	loopDone      chan struct{}

	active       int32 // atomic: in-flight copy goroutines
	workerSeq    int64 // atomic: monotonic id for log/claim attribution
	stickyFolder string
}

// New constructs a Scheduler for bucket in the stopped state. Call Start
// to begin claiming work.
func New(bucket model.Bucket, st *store.Store, bus *eventbus.Bus, log logging.Logger, cfg Config) *Scheduler {
	if log == nil {
		log = logging.NewNop()
	}
	if cfg.ClaimBatchLimit <= 0 {
		cfg.ClaimBatchLimit = 50
	}
	if cfg.ActiveInterval <= 0 {
		cfg.ActiveInterval = 200 * time.Millisecond
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = time.Second
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 2 * time.Minute
	}

	return &Scheduler{
		bucketID:    bucket.ID,
		instanceID:  uuid.NewString(),
		sourceRoots: bucket.SourceRoots,
		bucketName:  bucket.Name,
		workerCount: bucket.WorkerCount,
		st:          st,
		bus:         bus,
		log:         log,
		cfg:         cfg,
		status:      model.BucketStopped,
	}
}

// Status returns the scheduler's current operational status.
func (s *Scheduler) Status() model.BucketStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetWorkerCount updates the live worker cap; it applies to the next
// claim decision, without disturbing in-flight copies.
func (s *Scheduler) SetWorkerCount(n int) {
	s.mu.Lock()
	s.workerCount = n
	s.mu.Unlock()
}

// Start transitions stopped -> running and begins the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.BucketStopped {
		return bucketerrors.ErrInvalidTransition
	}

	s.loopCtx, s.loopCancel = context.WithCancel(ctx)
	s.loopDone = make(chan struct{})
	s.status = model.BucketRunning

	if err := s.st.UpdateBucketStatus(s.bucketID, model.BucketRunning); err != nil {
		s.status = model.BucketStopped
		return err
	}

	go s.run(s.loopCtx, s.loopDone)
	s.publishServiceChange("started")
	return nil
}

// Pause transitions running -> paused. In-flight copies finish; no new
// claims are issued until Resume.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.BucketRunning {
		return bucketerrors.ErrInvalidTransition
	}
	s.status = model.BucketPaused
	if err := s.st.UpdateBucketStatus(s.bucketID, model.BucketPaused); err != nil {
		return err
	}
	s.publishServiceChange("paused")
	return nil
}

// Resume transitions paused -> running.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.BucketPaused {
		return bucketerrors.ErrInvalidTransition
	}
	s.status = model.BucketRunning
	if err := s.st.UpdateBucketStatus(s.bucketID, model.BucketRunning); err != nil {
		return err
	}
	s.publishServiceChange("resumed")
	return nil
}

// Stop transitions running or paused -> stopped, cancels the dispatch
// loop, and waits (up to timeout) for in-flight copies to finish.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.status == model.BucketStopped {
		s.mu.Unlock()
		return nil
	}
	cancel := s.loopCancel
	done := s.loopDone
	s.status = model.BucketStopped
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			logging.System(s.log, fmt.Sprintf("scheduler: bucket %d stop timed out waiting for in-flight copies", s.bucketID))
		}
	}

	if err := s.st.UpdateBucketStatus(s.bucketID, model.BucketStopped); err != nil {
		return err
	}
	s.publishServiceChange("stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.IdleInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dispatched := s.tick(ctx, &wg)
			if dispatched {
				ticker.Reset(s.cfg.ActiveInterval)
			} else {
				ticker.Reset(s.cfg.IdleInterval)
			}
		}
	}
}

// tick claims and dispatches at most one batch of work, honoring the
// worker cap and folder stickiness. It returns true if any entry was
// claimed, so the caller can switch to the faster active polling interval.
func (s *Scheduler) tick(ctx context.Context, wg *sync.WaitGroup) bool {
	if s.Status() != model.BucketRunning {
		return false
	}

	s.mu.Lock()
	workerCap := s.workerCount
	s.mu.Unlock()

	room := workerCap - int(atomic.LoadInt32(&s.active))
	if room <= 0 {
		return false
	}
	if room > s.cfg.ClaimBatchLimit {
		room = s.cfg.ClaimBatchLimit
	}

	folder, err := s.pickFolder()
	if err != nil {
		logging.System(s.log, fmt.Sprintf("scheduler: bucket %d folder lookup failed: %v", s.bucketID, err))
		return false
	}
	if folder == "" {
		return false
	}

	workerID := fmt.Sprintf("%s-w%d", s.instanceID, atomic.AddInt64(&s.workerSeq, 1))

	entries, err := s.st.Claim(s.bucketID, folder, room, workerID, s.cfg.ClaimLease)
	if err != nil {
		logging.System(s.log, fmt.Sprintf("scheduler: bucket %d claim failed: %v", s.bucketID, err))
		return false
	}
	if len(entries) == 0 {
		// This folder has nothing claimable left; drop stickiness so the
		// next tick walks the source list again from the top.
		s.mu.Lock()
		s.stickyFolder = ""
		s.mu.Unlock()
		return false
	}

	for _, entry := range entries {
		entry := entry
		atomic.AddInt32(&s.active, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer atomic.AddInt32(&s.active, -1)
			s.process(ctx, entry)
		}()
	}

	return true
}

// pickFolder implements folder stickiness: keep draining the folder
// already in progress while it still has pending or in-flight entries;
// otherwise pick the first folder with pending or in-flight entries,
// walking the bucket's source list in the order it was configured with.
func (s *Scheduler) pickFolder() (string, error) {
	s.mu.Lock()
	sticky := s.stickyFolder
	s.mu.Unlock()

	counts, err := s.st.FolderActiveCounts(s.bucketID)
	if err != nil {
		return "", err
	}

	if sticky != "" {
		if fc, ok := counts[sticky]; ok && (fc.Pending > 0 || fc.InProgress > 0) {
			return sticky, nil
		}
	}

	for _, folder := range s.sourceRoots {
		if fc, ok := counts[folder]; ok && (fc.Pending > 0 || fc.InProgress > 0) {
			s.mu.Lock()
			s.stickyFolder = folder
			s.mu.Unlock()
			return folder, nil
		}
	}

	return "", nil
}

// process runs one claimed entry through the copy worker and commits the
// outcome, publishing progress and status-change events along the way.
func (s *Scheduler) process(ctx context.Context, entry model.QueueEntry) {
	cancelChan := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(cancelChan)
	}()

	progress := func(copied, total int64) {
		s.bus.Publish(eventbus.Event{
			Kind:      eventbus.KindCopyProgress,
			BucketID:  s.bucketID,
			EntryID:   entry.ID,
			Bytes:     copied,
			TotalSize: total,
			At:        time.Now(),
		})
	}

	result, copyErr := copier.Copy(ctx, entry, s.cfg.Copier, progress, cancelChan)

	if copyErr == copier.ErrCanceled {
		// Leave the row in_progress: Claim reclaims it once its lease
		// expires, or a restart's crash-recovery sweep requeues it. Nothing to
		// commit here since the entry never reached a terminal state.
		logging.System(s.log, fmt.Sprintf("scheduler: bucket %d entry %d canceled mid-copy", s.bucketID, entry.ID))
		return
	}

	outcome := store.Outcome{
		Status:          result.Status,
		SourceHash:      result.SourceHash,
		DestinationHash: result.DestinationHash,
		ErrorMessage:    result.ErrorMessage,
	}

	if err := s.st.Commit(entry.ID, outcome); err != nil {
		logging.System(s.log, fmt.Sprintf("scheduler: bucket %d entry %d commit failed: %v", s.bucketID, entry.ID, err))
		return
	}

	logging.Log(s.log, string(result.Status), logging.Record{
		BucketName:   s.bucketName,
		SourcePath:   entry.SourcePath,
		SourceFolder: entry.SourceFolder,
		FileSize:     entry.FileSize,
		SourceHash:   result.SourceHash,
		WorkerID:     entry.WorkerID,
		Message:      result.ErrorMessage,
	})

	s.bus.Publish(eventbus.Event{
		Kind:     eventbus.KindStatusChange,
		BucketID: s.bucketID,
		EntryID:  entry.ID,
		Status:   string(result.Status),
		Message:  result.ErrorMessage,
		At:       time.Now(),
	})
}

func (s *Scheduler) publishServiceChange(message string) {
	s.bus.Publish(eventbus.Event{
		Kind:     eventbus.KindServiceChange,
		BucketID: s.bucketID,
		Message:  message,
		At:       time.Now(),
	})
}
