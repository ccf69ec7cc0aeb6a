package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidBatch rejects batches with no usable item ids.
	ErrInvalidBatch = errors.New("invalid batch")
	// ErrBatchExists is returned when a batch id is already in use.
	ErrBatchExists = errors.New("batch already exists")
	// ErrNotFound is returned for unknown batches, items and tickets.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a stale version token. MarkCompleted retries it
	// internally; callers only see it wrapped in ErrStoreUnavailable.
	ErrConflict = errors.New("version conflict")
	// ErrStoreUnavailable is returned once the retry budget is spent.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

// unavailable wraps a storage failure so callers can classify it with
// errors.Is. Context cancellation passes through untouched.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
