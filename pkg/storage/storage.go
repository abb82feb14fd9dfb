// Package storage maps an append-only, partitioned commit log onto a
// relational engine. Records, their headers, and the per-partition watermark
// pair move together under a single transaction discipline so that
// concurrent producers, consumers, and retention observe a coherent,
// monotonic log.
package storage

import (
	"context"

	"github.com/google/uuid"
)

// Engine is the storage contract for offsets, watermarks, and header
// association. Implementations are safe for concurrent use; concurrency
// control is delegated to the underlying engine's transaction isolation.
type Engine interface {
	// CreateTopic inserts the topic, its topitions, and one watermark row
	// per topition (low=high=0) in a single transaction. A duplicate name
	// within the cluster fails with ErrConflict.
	CreateTopic(ctx context.Context, name string, partitions int32) (uuid.UUID, error)

	// DeleteTopic removes headers, records, watermarks, topitions, and the
	// topic row, in that order, in one transaction.
	DeleteTopic(ctx context.Context, name string) error

	// Produce appends records to the partition and advances the high
	// watermark, all in one transaction. Offsets are assigned from the
	// freshly locked high watermark; the base offset is returned. A lost
	// offset race surfaces as ErrConflict and is retried internally.
	Produce(ctx context.Context, tp Topition, records []Record) (int64, error)

	// Fetch returns up to maxRecords records starting at offset, headers
	// included, bounded above by the high watermark. Offsets below the low
	// watermark fail with ErrNotFound.
	Fetch(ctx context.Context, tp Topition, offset int64, maxRecords int32) ([]Record, error)

	// Watermarks reads the partition's current (low, high) pair.
	Watermarks(ctx context.Context, tp Topition) (Watermark, error)

	// AdvanceWatermark unconditionally sets the partition's watermark pair.
	// The caller is responsible for computing monotonic values from a fresh
	// read. A pair with low > high or low < 0 fails with
	// ErrInvariantViolation before touching the engine; an update matching
	// zero rows for a resolvable partition also fails with
	// ErrInvariantViolation, distinct from ErrNotFound.
	AdvanceWatermark(ctx context.Context, tp Topition, low, high int64) error

	// AttachHeader inserts one header row for the record at (tp, offset),
	// resolved by a join against existing records. If the record does not
	// exist the attach fails with ErrNotFound; it is never a silent no-op.
	// Repeated attachment with the same key appends another row.
	AttachHeader(ctx context.Context, tp Topition, offset int64, key, value []byte) error

	// Headers returns the headers attached to (tp, offset) in attachment
	// order.
	Headers(ctx context.Context, tp Topition, offset int64) ([]Header, error)

	// ListOffsets reports the earliest or latest offset boundary for the
	// partition, taken from the watermark row.
	ListOffsets(ctx context.Context, tp Topition, kind OffsetKind) (int64, error)

	// Truncate advances the low watermark to before (clamped to the current
	// [low, high] window) and deletes records and headers with offsets
	// below it, in one transaction. Returns the number of records deleted.
	Truncate(ctx context.Context, tp Topition, before int64) (int64, error)

	// Topitions enumerates every partition in the cluster.
	Topitions(ctx context.Context) ([]Topition, error)

	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error

	Close() error
}
