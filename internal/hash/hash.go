// Package hash provides the pluggable content-hash capability used by the
// copy worker. Callers never depend on a specific algorithm; they request
// a Hasher for the configured Algorithm and digest bytes through it.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
)

// Algorithm names one of the content-hash functions recognized by the
// system's configuration.
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	XXHash64 Algorithm = "xxhash64"
	XXHash3  Algorithm = "xxhash3"
)

// Hasher wraps a hash.Hash so the worker can feed it chunks while streaming
// a copy, then read back a hex digest once the stream is exhausted.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a fresh Hasher for algo, or an error if algo is not
// one of the recognized values.
func NewHasher(algo Algorithm) (*Hasher, error) {
	switch algo {
	case SHA256:
		return &Hasher{h: sha256.New()}, nil
	case XXHash64:
		return &Hasher{h: xxhash.New()}, nil
	case XXHash3:
		return &Hasher{h: xxh3.New()}, nil
	default:
		return nil, fmt.Errorf("hash: unrecognized algorithm %q", algo)
	}
}

// Write feeds a chunk to the underlying digest. It never errors (per
// hash.Hash contract) but is exposed as io.Writer for use with io.Copy
// and io.MultiWriter.
func (hr *Hasher) Write(p []byte) (int, error) {
	return hr.h.Write(p)
}

// Digest returns the current hex-encoded digest. It does not reset the
// underlying hash; call it once the stream is fully consumed.
func (hr *Hasher) Digest() string {
	return hex.EncodeToString(hr.h.Sum(nil))
}

// File computes the hex digest of the file at path using algo, reading it
// once in a single streaming pass.
func File(path string, algo Algorithm) (string, error) {
	return fileWith(path, algo, func(p string) (io.ReadCloser, error) {
		return os.Open(p) // #nosec G304 - path is controlled by caller (queue entry)
	})
}

// openFunc exists so tests can substitute a fake filesystem without
// pulling in a full VFS abstraction for a single call site.
type openFunc func(string) (io.ReadCloser, error)

func fileWith(path string, algo Algorithm, open openFunc) (string, error) {
	r, err := open(path)
	if err != nil {
		return "", fmt.Errorf("hash: open %s: %w", path, err)
	}
	defer func() { _ = r.Close() }()

	hr, err := NewHasher(algo)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(hr, r); err != nil {
		return "", fmt.Errorf("hash: read %s: %w", path, err)
	}

	return hr.Digest(), nil
}
