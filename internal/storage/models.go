package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// UpsertStats reports how a batch upsert resolved against existing rows.
type UpsertStats struct {
	Inserted int
	Updated  int
}

// Add folds another batch's stats into s.
func (s *UpsertStats) Add(other UpsertStats) {
	s.Inserted += other.Inserted
	s.Updated += other.Updated
}

// StorageError wraps a backend failure. The orchestrator treats it as
// retryable and closes the audit run as errored rather than crashing.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }
