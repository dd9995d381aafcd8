// Package copier is the Copy Worker: it takes one claimed queue entry,
// decides whether the destination already holds identical, conflicting,
// or no content, streams the copy with on-the-fly hashing when a copy is
// needed, and verifies the result before reporting a terminal outcome.
package copier

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/moisa13/file-copy/internal/hash"
	"github.com/moisa13/file-copy/internal/model"
)

// ProgressFunc is invoked periodically while streaming a copy, with the
// bytes copied so far and the entry's known total size.
type ProgressFunc func(bytesCopied, totalBytes int64)

// Config carries the knobs the copier needs that come from the service's
// configuration rather than the entry itself.
type Config struct {
	Algorithm  hash.Algorithm
	BufferSize int
}

// Result is the terminal disposition of one copy attempt, ready to be
// handed to the store's Commit.
type Result struct {
	Status          model.EntryStatus
	SourceHash      string
	DestinationHash string
	ErrorMessage    string
}

// ErrCanceled is returned as is, not wrapped, when cancel has fired
// before or during a copy, so callers can compare against it directly.
var ErrCanceled = fmt.Errorf("copier: canceled")

// Copy replicates entry.SourcePath to entry.DestinationPath. cancel, if
// non-nil, is checked between chunks so a scheduler shutdown can abort a
// large in-flight copy promptly.
func Copy(ctx context.Context, entry model.QueueEntry, cfg Config, progress ProgressFunc, cancel <-chan struct{}) (Result, error) {
	destInfo, statErr := os.Stat(entry.DestinationPath)
	switch {
	case statErr == nil:
		return resolveExisting(ctx, entry, destInfo, cfg, cancel)
	case os.IsNotExist(statErr):
		return copyFresh(ctx, entry, cfg, progress, cancel)
	default:
		return Result{Status: model.EntryError, ErrorMessage: statErr.Error()}, fmt.Errorf("copier: stat destination: %w", statErr)
	}
}

// resolveExisting handles the case where the destination path already
// has content. Either way the destination isn't getting overwritten
// without a conflict decision, so both sides are hashed unconditionally:
// a size match needs both hashes to tell identical content from a
// same-size collision, and a size mismatch still needs both hashes on
// the row so a reported conflict always carries the evidence for it.
func resolveExisting(ctx context.Context, entry model.QueueEntry, destInfo os.FileInfo, cfg Config, cancel <-chan struct{}) (Result, error) {
	sourceHash, err := hashWithCancel(entry.SourcePath, cfg.Algorithm, cancel)
	if err != nil {
		return errorResult(err)
	}

	destHash, err := hashWithCancel(entry.DestinationPath, cfg.Algorithm, cancel)
	if err != nil {
		return errorResult(err)
	}

	if destInfo.Size() != entry.FileSize {
		return Result{
			Status:          model.EntryConflict,
			SourceHash:      sourceHash,
			DestinationHash: destHash,
			ErrorMessage:    "destination exists with a different size",
		}, nil
	}

	if sourceHash == destHash {
		return Result{Status: model.EntryCompleted, SourceHash: sourceHash, DestinationHash: destHash}, nil
	}

	return Result{
		Status:          model.EntryConflict,
		SourceHash:      sourceHash,
		DestinationHash: destHash,
		ErrorMessage:    "destination exists with the same size but different content",
	}, nil
}

// copyFresh streams source to a temp file beside the destination, hashing
// as it goes, fsyncs and renames into place, then re-reads the written
// file to verify it matches the hash computed while streaming.
func copyFresh(ctx context.Context, entry model.QueueEntry, cfg Config, progress ProgressFunc, cancel <-chan struct{}) (Result, error) {
	if err := os.MkdirAll(filepath.Dir(entry.DestinationPath), 0o755); err != nil {
		return errorResult(fmt.Errorf("copier: create destination dir: %w", err))
	}

	in, err := os.Open(entry.SourcePath) // #nosec G304 - path is controlled by caller (queue entry)
	if err != nil {
		return errorResult(fmt.Errorf("copier: open source: %w", err))
	}
	defer func() { _ = in.Close() }()

	tmpPath := entry.DestinationPath + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) // #nosec G304
	if err != nil {
		return errorResult(fmt.Errorf("copier: create temp file: %w", err))
	}

	sourceHash, copyErr := streamCopy(in, out, entry.FileSize, cfg, progress, cancel)

	syncErr := out.Sync()
	closeErr := out.Close()

	if copyErr != nil || syncErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		if copyErr != nil {
			return errorResult(copyErr)
		}
		if syncErr != nil {
			return errorResult(fmt.Errorf("copier: sync temp file: %w", syncErr))
		}
		return errorResult(fmt.Errorf("copier: close temp file: %w", closeErr))
	}

	if err := os.Rename(tmpPath, entry.DestinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return errorResult(fmt.Errorf("copier: rename into place: %w", err))
	}

	destHash, err := hashWithCancel(entry.DestinationPath, cfg.Algorithm, cancel)
	if err != nil {
		return errorResult(err)
	}
	if destHash != sourceHash {
		return Result{
			Status:          model.EntryError,
			SourceHash:      sourceHash,
			DestinationHash: destHash,
			ErrorMessage:    "integrity check failed: destination hash does not match source after copy",
		}, nil
	}

	return Result{Status: model.EntryCompleted, SourceHash: sourceHash, DestinationHash: destHash}, nil
}

// streamCopy copies src to dst in cfg.BufferSize chunks, feeding every
// chunk to a Hasher and to progress, and checking cancel between chunks.
func streamCopy(src io.Reader, dst io.Writer, totalSize int64, cfg Config, progress ProgressFunc, cancel <-chan struct{}) (string, error) {
	hasher, err := hash.NewHasher(cfg.Algorithm)
	if err != nil {
		return "", err
	}

	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	buf := make([]byte, bufSize)

	var copied int64
	for {
		select {
		case <-cancel:
			return "", ErrCanceled
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("copier: write destination: %w", err)
			}
			if _, err := hasher.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("copier: hash chunk: %w", err)
			}
			copied += int64(n)
			if progress != nil {
				progress(copied, totalSize)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("copier: read source: %w", readErr)
		}
	}

	return hasher.Digest(), nil
}

// hashWithCancel computes a file's digest, checking cancel once up front
// since hash.File streams internally without a cancellation hook.
func hashWithCancel(path string, algo hash.Algorithm, cancel <-chan struct{}) (string, error) {
	select {
	case <-cancel:
		return "", ErrCanceled
	default:
	}
	digest, err := hash.File(path, algo)
	if err != nil {
		return "", fmt.Errorf("copier: hash %s: %w", path, err)
	}
	return digest, nil
}

func errorResult(err error) (Result, error) {
	if err == ErrCanceled {
		return Result{Status: model.EntryPending, ErrorMessage: "canceled"}, err
	}
	return Result{Status: model.EntryError, ErrorMessage: err.Error()}, err
}
