package scheduler_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moisa13/file-copy/internal/copier"
	"github.com/moisa13/file-copy/internal/eventbus"
	"github.com/moisa13/file-copy/internal/hash"
	"github.com/moisa13/file-copy/internal/logging"
	"github.com/moisa13/file-copy/internal/model"
	"github.com/moisa13/file-copy/internal/scheduler"
	"github.com/moisa13/file-copy/internal/store"
	"github.com/moisa13/file-copy/pkg/bucketerrors"
)

func newTestEnv(t *testing.T) (*store.Store, *eventbus.Bus, context.Context) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Init(db))

	st, err := store.New(db, logging.NewNop(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := eventbus.New(logging.NewNop())
	bus.Start(ctx)
	t.Cleanup(func() { bus.Stop(time.Second) })

	return st, bus, ctx
}

func schedulerConfig() scheduler.Config {
	return scheduler.Config{
		ClaimBatchLimit: 10,
		ActiveInterval:  10 * time.Millisecond,
		IdleInterval:    10 * time.Millisecond,
		ClaimLease:      time.Minute,
		Copier:          copier.Config{Algorithm: hash.SHA256, BufferSize: 4096},
	}
}

func TestSchedulerCopiesClaimedEntryToCompletion(t *testing.T) {
	st, bus, ctx := newTestEnv(t)

	sourceDir := t.TempDir()
	destDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("payload"), 0o644))

	bucket, err := st.CreateBucket("b1", []string{sourceDir}, destDir, 2)
	require.NoError(t, err)

	_, err = st.InsertMany(bucket.ID, []store.NewEntry{
		{
			SourcePath:      filepath.Join(sourceDir, "a.txt"),
			SourceFolder:    sourceDir,
			RelativePath:    "a.txt",
			DestinationPath: filepath.Join(destDir, "a.txt"),
			FileSize:        int64(len("payload")),
		},
	})
	require.NoError(t, err)

	sched := scheduler.New(bucket, st, bus, logging.NewNop(), schedulerConfig())
	require.NoError(t, sched.Start(ctx))
	t.Cleanup(func() { _ = sched.Stop(time.Second) })

	require.Eventually(t, func() bool {
		stats := st.Stats(bucket.ID)
		return stats[model.EntryCompleted].Count == 1
	}, 2*time.Second, 10*time.Millisecond)

	written, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(written))
}

func TestSchedulerStateMachineRejectsInvalidTransitions(t *testing.T) {
	st, bus, ctx := newTestEnv(t)

	bucket, err := st.CreateBucket("b2", []string{t.TempDir()}, t.TempDir(), 1)
	require.NoError(t, err)

	sched := scheduler.New(bucket, st, bus, logging.NewNop(), schedulerConfig())

	assert.ErrorIs(t, sched.Pause(), bucketerrors.ErrInvalidTransition)
	assert.ErrorIs(t, sched.Resume(), bucketerrors.ErrInvalidTransition)

	require.NoError(t, sched.Start(ctx))
	assert.Equal(t, model.BucketRunning, sched.Status())

	assert.ErrorIs(t, sched.Start(ctx), bucketerrors.ErrInvalidTransition)

	require.NoError(t, sched.Pause())
	assert.Equal(t, model.BucketPaused, sched.Status())

	require.NoError(t, sched.Resume())
	assert.Equal(t, model.BucketRunning, sched.Status())

	require.NoError(t, sched.Stop(time.Second))
	assert.Equal(t, model.BucketStopped, sched.Status())
}

func TestSchedulerDoesNotExceedWorkerCap(t *testing.T) {
	st, bus, ctx := newTestEnv(t)

	sourceDir := t.TempDir()
	destDir := t.TempDir()

	var rows []store.NewEntry
	for i := 0; i < 8; i++ {
		fname := "file" + string(rune('a'+i)) + ".txt"
		require.NoError(t, os.WriteFile(filepath.Join(sourceDir, fname), []byte("x"), 0o644))
		rows = append(rows, store.NewEntry{
			SourcePath:      filepath.Join(sourceDir, fname),
			SourceFolder:    sourceDir,
			RelativePath:    fname,
			DestinationPath: filepath.Join(destDir, fname),
			FileSize:        1,
		})
	}

	bucket, err := st.CreateBucket("b3", []string{sourceDir}, destDir, 2)
	require.NoError(t, err)

	_, err = st.InsertMany(bucket.ID, rows)
	require.NoError(t, err)

	sched := scheduler.New(bucket, st, bus, logging.NewNop(), schedulerConfig())
	require.NoError(t, sched.Start(ctx))
	t.Cleanup(func() { _ = sched.Stop(time.Second) })

	var capExceeded bool
	require.Eventually(t, func() bool {
		counts, err := st.FolderActiveCounts(bucket.ID)
		require.NoError(t, err)
		if counts[sourceDir].InProgress > 2 {
			capExceeded = true
		}
		stats := st.Stats(bucket.ID)
		return stats[model.EntryCompleted].Count == 8
	}, 3*time.Second, 10*time.Millisecond)

	assert.False(t, capExceeded, "more entries were in progress at once than the bucket's worker cap")
}

func TestSchedulerDrainsFoldersInSourceListOrderNotLexicographic(t *testing.T) {
	st, bus, ctx := newTestEnv(t)

	base := t.TempDir()
	destDir := t.TempDir()

	// "zz" sorts after "aa" lexicographically but is listed first in the
	// bucket's source roots, so it must drain first.
	zzDir := filepath.Join(base, "zz")
	aaDir := filepath.Join(base, "aa")
	require.NoError(t, os.MkdirAll(zzDir, 0o755))
	require.NoError(t, os.MkdirAll(aaDir, 0o755))

	var rows []store.NewEntry
	for _, dir := range []string{zzDir, aaDir} {
		for i := 0; i < 3; i++ {
			fname := "file" + string(rune('a'+i)) + ".txt"
			require.NoError(t, os.WriteFile(filepath.Join(dir, fname), []byte("x"), 0o644))
			rows = append(rows, store.NewEntry{
				SourcePath:      filepath.Join(dir, fname),
				SourceFolder:    dir,
				RelativePath:    fname,
				DestinationPath: filepath.Join(destDir, filepath.Base(dir), fname),
				FileSize:        1,
			})
		}
	}

	bucket, err := st.CreateBucket("ordered", []string{zzDir, aaDir}, destDir, 1)
	require.NoError(t, err)

	_, err = st.InsertMany(bucket.ID, rows)
	require.NoError(t, err)

	sched := scheduler.New(bucket, st, bus, logging.NewNop(), schedulerConfig())
	require.NoError(t, sched.Start(ctx))
	t.Cleanup(func() { _ = sched.Stop(time.Second) })

	var orderViolated bool
	require.Eventually(t, func() bool {
		counts, err := st.FolderActiveCounts(bucket.ID)
		require.NoError(t, err)
		zzActive := counts[zzDir].Pending > 0 || counts[zzDir].InProgress > 0
		aaStarted := counts[aaDir].InProgress > 0
		if zzActive && aaStarted {
			orderViolated = true
		}
		stats := st.Stats(bucket.ID)
		return stats[model.EntryCompleted].Count == 6
	}, 3*time.Second, 5*time.Millisecond)

	assert.False(t, orderViolated, "folder listed second in source roots started before the first folder drained")
}
