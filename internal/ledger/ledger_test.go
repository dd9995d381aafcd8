package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moisa13/file-copy/internal/ledger"
	"github.com/moisa13/file-copy/internal/model"
)

func TestAddAndStats(t *testing.T) {
	l := ledger.New()

	l.Add(1, model.EntryPending, 3, 300)
	l.Add(1, model.EntryPending, 2, 200)
	l.Add(2, model.EntryPending, 1, 100)

	stats := l.Stats(1)
	require.Contains(t, stats, model.EntryPending)
	assert.Equal(t, int64(5), stats[model.EntryPending].Count)
	assert.Equal(t, int64(500), stats[model.EntryPending].TotalSize)

	global := l.GlobalStats()
	assert.Equal(t, int64(6), global[model.EntryPending].Count)
	assert.Equal(t, int64(600), global[model.EntryPending].TotalSize)
}

func TestMoveTransfersBetweenStatuses(t *testing.T) {
	l := ledger.New()

	l.Add(1, model.EntryPending, 1, 50)
	l.Move(1, model.EntryPending, model.EntryInProgress, 50)

	stats := l.Stats(1)
	assert.Equal(t, int64(0), stats[model.EntryPending].Count)
	assert.Equal(t, int64(1), stats[model.EntryInProgress].Count)
	assert.Equal(t, int64(50), stats[model.EntryInProgress].TotalSize)
}

func TestRebuildReplacesLedgerWholesale(t *testing.T) {
	l := ledger.New()
	l.Add(1, model.EntryPending, 10, 1000)

	l.Rebuild([]ledger.Row{
		{BucketID: 1, Status: model.EntryCompleted, Count: 4, TotalSize: 400},
		{BucketID: 2, Status: model.EntryError, Count: 1, TotalSize: 10},
	})

	stats := l.Stats(1)
	assert.Empty(t, stats[model.EntryPending])
	assert.Equal(t, int64(4), stats[model.EntryCompleted].Count)

	global := l.GlobalStats()
	assert.Equal(t, int64(4), global[model.EntryCompleted].Count)
	assert.Equal(t, int64(1), global[model.EntryError].Count)
}

func TestDropBucketRemovesOnlyThatBucket(t *testing.T) {
	l := ledger.New()
	l.Add(1, model.EntryCompleted, 5, 500)
	l.Add(2, model.EntryCompleted, 2, 200)

	l.DropBucket(1)

	assert.Empty(t, l.Stats(1))
	assert.Equal(t, int64(2), l.Stats(2)[model.EntryCompleted].Count)

	global := l.GlobalStats()
	assert.Equal(t, int64(2), global[model.EntryCompleted].Count)
}

func TestRebuildIsNoOpUnderSteadyState(t *testing.T) {
	l := ledger.New()
	l.Add(1, model.EntryCompleted, 3, 300)

	before := l.Stats(1)

	l.Rebuild([]ledger.Row{{BucketID: 1, Status: model.EntryCompleted, Count: 3, TotalSize: 300}})

	after := l.Stats(1)
	assert.Equal(t, before, after)
}
