// Package model defines the durable shapes stored by the queue store:
// buckets, file-queue entries, and the enums that drive their lifecycle.
package model

import "time"

// BucketStatus is the operational status of a bucket's scheduler.
type BucketStatus string

const (
	BucketStopped BucketStatus = "stopped"
	BucketRunning BucketStatus = "running"
	BucketPaused  BucketStatus = "paused"
)

// EntryStatus is the lifecycle status of a single queue entry.
type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryInProgress EntryStatus = "in_progress"
	EntryCompleted  EntryStatus = "completed"
	EntryError      EntryStatus = "error"
	EntryConflict   EntryStatus = "conflict"
)

// Bucket is a logical grouping of source roots sharing one destination
// root, with its own scheduler and worker cap.
type Bucket struct {
	ID          int64
	Name        string
	SourceRoots []string
	Destination string
	WorkerCount int
	Status      BucketStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// QueueEntry is a durable record of one file awaiting or having completed
// replication from a source root to a mirrored path under the bucket's
// destination.
type QueueEntry struct {
	ID              int64
	BucketID        int64
	SourcePath      string
	SourceFolder    string
	RelativePath    string
	DestinationPath string
	FileSize        int64
	Status          EntryStatus
	SourceHash      string
	DestinationHash string
	ErrorMessage    string
	WorkerID        string
	Attempts        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// FolderCounts is the per-source-folder breakdown the scheduler uses to
// pick which folder to drain next.
type FolderCounts struct {
	Pending    int
	InProgress int
}

// StatusCounts is the (count, total-size) pair the stats ledger keeps
// per (bucket, status).
type StatusCounts struct {
	Count     int64
	TotalSize int64
}
