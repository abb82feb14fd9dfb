package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Error taxonomy. Callers branch on these with errors.Is; everything the
// engine returns wraps exactly one of them.
var (
	// ErrNotFound: the cluster/topic/partition triple does not resolve, or
	// the record targeted by a header attach does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict: a uniqueness violation, i.e. a lost race for an offset or
	// a duplicate topic name. The produce path retries these with a freshly
	// read high watermark.
	ErrConflict = errors.New("conflict")

	// ErrInvariantViolation: the schema lied to us — a resolvable partition
	// with no watermark row, or a watermark pair with low > high. Never
	// retried.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrUnavailable: engine-level failure (connection loss, timeout).
	// Propagated unchanged; retry policy belongs to the caller.
	ErrUnavailable = errors.New("storage unavailable")
)

const sqlstateUniqueViolation = "23505"

// classify maps driver and engine failures onto the taxonomy. Errors that
// already carry a taxonomy sentinel pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if string(pqErr.Code) == sqlstateUniqueViolation {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		// Class 08 is connection exceptions; everything else from the
		// server is reported as-is under Unavailable.
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// ErrorKind returns the label used for metrics and logging.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "unavailable"
	}
}
