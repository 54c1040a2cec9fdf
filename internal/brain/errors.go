package brain

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/modinired/cesar-brain/internal/store"
)

// Error kinds reported by the engine. Callers classify with errors.Is;
// the HTTP layer maps them onto status codes.
var (
	// ErrValidation covers malformed parameters, unknown referenced
	// ids, self-loops, and mutations targeting merged-away nodes.
	// Rejected before any state change.
	ErrValidation = errors.New("validation failed")

	// ErrConflict means optimistic-concurrency retries were exhausted
	// on a contended node. Retryable by the caller.
	ErrConflict = errors.New("conflict")

	// ErrNotFound means a referenced id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable means the backing store was unreachable or
	// timed out. No partial writes persist.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// classify maps low-level store errors onto the engine's error kinds.
// Errors already carrying a kind pass through unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return errors.Join(ErrNotFound, err)
	case errors.Is(err, store.ErrVersionConflict):
		return errors.Join(ErrConflict, err)
	case isLocked(err):
		return errors.Join(ErrConflict, err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return errors.Join(ErrStoreUnavailable, err)
	default:
		return errors.Join(ErrStoreUnavailable, err)
	}
}

// isLocked reports SQLite busy/locked conditions, which surface under
// cross-process write contention once busy_timeout has elapsed. These
// are retryable, so they classify as conflicts.
func isLocked(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}

// errorCode returns the wire name for an error kind.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrConflict):
		return "conflict_error"
	case errors.Is(err, ErrNotFound):
		return "not_found_error"
	default:
		return "store_unavailable_error"
	}
}
