package hash_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moisa13/file-copy/internal/hash"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestFileIsDeterministicPerAlgorithm(t *testing.T) {
	path := writeTempFile(t, "the quick brown fox")

	for _, algo := range []hash.Algorithm{hash.SHA256, hash.XXHash64, hash.XXHash3} {
		digest1, err := hash.File(path, algo)
		require.NoError(t, err)
		digest2, err := hash.File(path, algo)
		require.NoError(t, err)
		assert.Equal(t, digest1, digest2, "algorithm %s should be deterministic", algo)
		assert.NotEmpty(t, digest1)
	}
}

func TestFileDiffersAcrossAlgorithms(t *testing.T) {
	path := writeTempFile(t, "distinguishing content")

	sha, err := hash.File(path, hash.SHA256)
	require.NoError(t, err)
	xx64, err := hash.File(path, hash.XXHash64)
	require.NoError(t, err)
	xx3, err := hash.File(path, hash.XXHash3)
	require.NoError(t, err)

	assert.NotEqual(t, sha, xx64)
	assert.NotEqual(t, sha, xx3)
	assert.NotEqual(t, xx64, xx3)
}

func TestFileDetectsContentDifference(t *testing.T) {
	pathA := writeTempFile(t, "content A")
	pathB := writeTempFile(t, "content B")

	digestA, err := hash.File(pathA, hash.SHA256)
	require.NoError(t, err)
	digestB, err := hash.File(pathB, hash.SHA256)
	require.NoError(t, err)

	assert.NotEqual(t, digestA, digestB)
}

func TestNewHasherRejectsUnknownAlgorithm(t *testing.T) {
	_, err := hash.NewHasher("unknown")
	assert.Error(t, err)
}

func TestFileReturnsErrorForMissingPath(t *testing.T) {
	_, err := hash.File(filepath.Join(t.TempDir(), "missing.txt"), hash.SHA256)
	assert.Error(t, err)
}

func TestHasherWriteThenDigestMatchesFile(t *testing.T) {
	path := writeTempFile(t, "streamed content")

	hr, err := hash.NewHasher(hash.SHA256)
	require.NoError(t, err)
	_, err = hr.Write([]byte("streamed content"))
	require.NoError(t, err)

	fromFile, err := hash.File(path, hash.SHA256)
	require.NoError(t, err)

	assert.Equal(t, fromFile, hr.Digest())
}
