package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const watermarkSelect = `select watermark.low, watermark.high
 from watermark, topition, topic, cluster
 where cluster.name = $1
 and topic.cluster = cluster.id
 and topic.name = $2
 and topition.topic = topic.id
 and topition.partition = $3
 and watermark.topition = topition.id`

// watermarkSelectForUpdate locks the watermark row for the rest of the
// transaction. This is what serializes concurrent producers and retention
// against the same partition; rows of other partitions are untouched.
const watermarkSelectForUpdate = `select watermark.id, topition.id, watermark.low, watermark.high
 from watermark, topition, topic, cluster
 where cluster.name = $1
 and topic.cluster = cluster.id
 and topic.name = $2
 and topition.topic = topic.id
 and topition.partition = $3
 and watermark.topition = topition.id
 for update of watermark`

const watermarkUpdateByID = `update watermark set low = $2, high = $3 where id = $1`

const watermarkUpdateByTopition = `update watermark set low = $2, high = $3 where topition = $1`

// lockedWatermark is the result of watermarkSelectForUpdate.
type lockedWatermark struct {
	id       int64
	topition int64
	low      int64
	high     int64
}

// lockWatermark resolves the triple and locks its watermark row inside tx.
// A missing triple is ErrNotFound; a resolvable triple with no watermark row
// is ErrInvariantViolation, because the row is created with the partition
// and is never deleted outside topic deletion.
func (e *PGEngine) lockWatermark(ctx context.Context, tx *sql.Tx, tp Topition) (lockedWatermark, error) {
	var lw lockedWatermark
	err := tx.QueryRowContext(ctx, watermarkSelectForUpdate, e.cluster, tp.Topic, tp.Partition).
		Scan(&lw.id, &lw.topition, &lw.low, &lw.high)
	if errors.Is(err, sql.ErrNoRows) {
		if _, lerr := e.lookupTopition(ctx, tx, tp); lerr != nil {
			return lw, lerr
		}
		return lw, fmt.Errorf("%w: topition %s/%s has no watermark row", ErrInvariantViolation, e.cluster, tp)
	}
	if err != nil {
		return lw, classify(err)
	}
	return lw, nil
}

// Watermarks reads the partition's current (low, high) pair.
func (e *PGEngine) Watermarks(ctx context.Context, tp Topition) (Watermark, error) {
	start := time.Now()
	wm, err := e.watermarks(ctx, tp)
	e.observe("watermarks", start, err)
	return wm, err
}

func (e *PGEngine) watermarks(ctx context.Context, tp Topition) (Watermark, error) {
	var wm Watermark
	err := e.db.QueryRowContext(ctx, watermarkSelect, e.cluster, tp.Topic, tp.Partition).
		Scan(&wm.Low, &wm.High)
	if errors.Is(err, sql.ErrNoRows) {
		if _, lerr := e.lookupTopition(ctx, e.db, tp); lerr != nil {
			return wm, lerr
		}
		return wm, fmt.Errorf("%w: topition %s/%s has no watermark row", ErrInvariantViolation, e.cluster, tp)
	}
	if err != nil {
		return wm, classify(err)
	}
	e.exportWatermark(tp, wm)
	return wm, nil
}

// AdvanceWatermark unconditionally sets the watermark pair: last writer
// wins, no compare-and-swap. Monotonicity is the caller's contract; every
// internal caller computes the new pair from a FOR UPDATE read in the same
// transaction.
func (e *PGEngine) AdvanceWatermark(ctx context.Context, tp Topition, low, high int64) error {
	start := time.Now()
	err := e.advanceWatermark(ctx, tp, low, high)
	e.observe("advance_watermark", start, err)
	if err != nil {
		e.log().Error("advance watermark", "topic", tp.Topic, "partition", tp.Partition,
			"low", low, "high", high, "error", err)
	}
	return err
}

func (e *PGEngine) advanceWatermark(ctx context.Context, tp Topition, low, high int64) error {
	if low < 0 || low > high {
		return fmt.Errorf("%w: watermark pair (%d, %d)", ErrInvariantViolation, low, high)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id, err := e.lookupTopition(ctx, tx, tp)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, watermarkUpdateByTopition, id, low, high)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	// The partition resolved but its watermark row is gone: schema
	// corruption, not a race.
	if affected == 0 {
		return fmt.Errorf("%w: topition %s/%s resolved but watermark update matched no row",
			ErrInvariantViolation, e.cluster, tp)
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	e.exportWatermark(tp, Watermark{Low: low, High: high})
	return nil
}

// ListOffsets reports the earliest or latest boundary from the watermark row.
func (e *PGEngine) ListOffsets(ctx context.Context, tp Topition, kind OffsetKind) (int64, error) {
	start := time.Now()
	offset, err := e.listOffsets(ctx, tp, kind)
	e.observe("list_offsets", start, err)
	return offset, err
}

func (e *PGEngine) listOffsets(ctx context.Context, tp Topition, kind OffsetKind) (int64, error) {
	wm, err := e.watermarks(ctx, tp)
	if err != nil {
		return 0, err
	}
	switch kind {
	case EarliestOffset:
		return wm.Low, nil
	case LatestOffset:
		return wm.High, nil
	default:
		return 0, fmt.Errorf("list offsets: unknown kind %d", kind)
	}
}

func (e *PGEngine) exportWatermark(tp Topition, wm Watermark) {
	lowWatermark.WithLabelValues(tp.Topic, partitionLabel(tp.Partition)).Set(float64(wm.Low))
	highWatermark.WithLabelValues(tp.Topic, partitionLabel(tp.Partition)).Set(float64(wm.High))
}
