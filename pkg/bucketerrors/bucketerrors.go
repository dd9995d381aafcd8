// Package bucketerrors defines the typed, sentinel-wrapped errors the
// control plane is expected to translate into user-visible responses.
package bucketerrors

import "errors"

var (
	// ErrBucketNotFound is returned when an operation names a bucket id
	// that the store has no row for.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrEntryNotFound is returned when an operation names a queue-entry
	// id that the store has no row for.
	ErrEntryNotFound = errors.New("queue entry not found")

	// ErrSchedulerRunning is returned when a caller attempts to mutate a
	// bucket's source list or destination while its scheduler is not
	// stopped.
	ErrSchedulerRunning = errors.New("bucket scheduler must be stopped for this change")

	// ErrInvalidTransition is returned when a lifecycle command is
	// issued from a status that does not permit it (e.g. pause while
	// stopped).
	ErrInvalidTransition = errors.New("invalid scheduler state transition")

	// ErrDuplicateBucketName is returned when creating or renaming a
	// bucket to a name already in use.
	ErrDuplicateBucketName = errors.New("bucket name already in use")
)
