package copier_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moisa13/file-copy/internal/copier"
	"github.com/moisa13/file-copy/internal/hash"
	"github.com/moisa13/file-copy/internal/model"
)

func testConfig() copier.Config {
	return copier.Config{Algorithm: hash.SHA256, BufferSize: 4096}
}

func newEntry(t *testing.T, sourceDir, destDir, name, content string) model.QueueEntry {
	t.Helper()
	sourcePath := filepath.Join(sourceDir, name)
	require.NoError(t, os.WriteFile(sourcePath, []byte(content), 0o644))

	return model.QueueEntry{
		SourcePath:      sourcePath,
		SourceFolder:    sourceDir,
		RelativePath:    name,
		DestinationPath: filepath.Join(destDir, name),
		FileSize:        int64(len(content)),
	}
}

func TestCopyFreshDestinationCompletes(t *testing.T) {
	sourceDir, destDir := t.TempDir(), t.TempDir()
	entry := newEntry(t, sourceDir, destDir, "a.txt", "hello world")

	result, err := copier.Copy(context.Background(), entry, testConfig(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.EntryCompleted, result.Status)
	assert.NotEmpty(t, result.SourceHash)
	assert.Equal(t, result.SourceHash, result.DestinationHash)

	written, err := os.ReadFile(entry.DestinationPath)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(written))
}

func TestCopyReportsProgress(t *testing.T) {
	sourceDir, destDir := t.TempDir(), t.TempDir()
	entry := newEntry(t, sourceDir, destDir, "b.txt", "some bytes to copy through the buffer")

	var lastCopied, lastTotal int64
	progress := func(copied, total int64) {
		lastCopied, lastTotal = copied, total
	}

	result, err := copier.Copy(context.Background(), entry, testConfig(), progress, nil)
	require.NoError(t, err)
	assert.Equal(t, model.EntryCompleted, result.Status)
	assert.Equal(t, entry.FileSize, lastCopied)
	assert.Equal(t, entry.FileSize, lastTotal)
}

func TestCopyIdenticalPreexistingDestinationCompletesWithoutOverwrite(t *testing.T) {
	sourceDir, destDir := t.TempDir(), t.TempDir()
	entry := newEntry(t, sourceDir, destDir, "c.txt", "identical content")
	require.NoError(t, os.WriteFile(entry.DestinationPath, []byte("identical content"), 0o644))

	result, err := copier.Copy(context.Background(), entry, testConfig(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.EntryCompleted, result.Status)
	assert.Equal(t, result.SourceHash, result.DestinationHash)
}

func TestCopyDivergentSameSizeDestinationConflicts(t *testing.T) {
	sourceDir, destDir := t.TempDir(), t.TempDir()
	entry := newEntry(t, sourceDir, destDir, "d.txt", "aaaaaaaaaa")
	require.NoError(t, os.WriteFile(entry.DestinationPath, []byte("bbbbbbbbbb"), 0o644))

	result, err := copier.Copy(context.Background(), entry, testConfig(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.EntryConflict, result.Status)
	assert.NotEqual(t, result.SourceHash, result.DestinationHash)
}

func TestCopyDivergentSizeDestinationConflictsWithBothHashesRecorded(t *testing.T) {
	sourceDir, destDir := t.TempDir(), t.TempDir()
	entry := newEntry(t, sourceDir, destDir, "e.txt", "short")
	require.NoError(t, os.WriteFile(entry.DestinationPath, []byte("a much longer existing file"), 0o644))

	result, err := copier.Copy(context.Background(), entry, testConfig(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.EntryConflict, result.Status)
	assert.NotEmpty(t, result.SourceHash, "conflict rows must always carry a source hash")
	assert.NotEmpty(t, result.DestinationHash, "conflict rows must always carry a destination hash")
	assert.NotEqual(t, result.SourceHash, result.DestinationHash)
}

func TestCopyCanceledMidStreamReturnsErrCanceled(t *testing.T) {
	sourceDir, destDir := t.TempDir(), t.TempDir()
	entry := newEntry(t, sourceDir, destDir, "f.txt", "some content that streams in chunks")

	cancel := make(chan struct{})
	close(cancel)

	_, err := copier.Copy(context.Background(), entry, testConfig(), nil, cancel)
	assert.ErrorIs(t, err, copier.ErrCanceled)
}

func TestCopyMissingSourceErrors(t *testing.T) {
	sourceDir, destDir := t.TempDir(), t.TempDir()
	entry := model.QueueEntry{
		SourcePath:      filepath.Join(sourceDir, "missing.txt"),
		DestinationPath: filepath.Join(destDir, "missing.txt"),
		FileSize:        5,
	}

	result, err := copier.Copy(context.Background(), entry, testConfig(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, model.EntryError, result.Status)
	assert.NotEmpty(t, result.ErrorMessage)
}
