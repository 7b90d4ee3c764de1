// internal/types/errors.go
package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCorruptState indicates a record exists but could not be
	// deserialized. Surfaced rather than guessed at.
	ErrCorruptState = errors.New("corrupt state")

	// ErrVersionConflict is returned by conditional blob writes when the
	// stored version no longer matches the expected one.
	ErrVersionConflict = errors.New("version conflict")

	// ErrConcurrencyConflict is returned when a mutation exhausted its
	// optimistic-locking retries. Callers may retry the whole operation.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrIterationLimit is returned when a column already holds the
	// maximum number of iterations.
	ErrIterationLimit = errors.New("iteration limit exceeded")

	// ErrGlobalLimit is returned when the hourly global request quota is
	// exhausted.
	ErrGlobalLimit = errors.New("global rate limit exceeded")

	// ErrCallerLimit is returned when the daily per-caller request quota
	// is exhausted.
	ErrCallerLimit = errors.New("caller rate limit exceeded")

	// ErrPromptRejected is returned when the content filter blocks a prompt.
	ErrPromptRejected = errors.New("prompt rejected by content filter")
)

// StorageError wraps failures of the underlying blob store.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
