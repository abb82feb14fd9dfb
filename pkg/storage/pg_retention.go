package storage

import (
	"context"
	"time"
)

const headerDeleteBelow = `delete from header
 where topition = $1
 and offset_id < $2`

const recordDeleteBelow = `delete from record
 where topition = $1
 and offset_id < $2`

// Truncate is the retention path: advance low and delete everything below
// it in the same transaction, so no window exists in which a record is gone
// while still claimed visible (or visible while already gone).
//
// The target is clamped to the current [low, high] window: retention can
// never move low backwards and never past high.
func (e *PGEngine) Truncate(ctx context.Context, tp Topition, before int64) (int64, error) {
	start := time.Now()
	deleted, err := e.truncate(ctx, tp, before)
	e.observe("truncate", start, err)
	if err != nil {
		e.log().Error("truncate", "topic", tp.Topic, "partition", tp.Partition,
			"before", before, "error", err)
		return 0, err
	}
	if deleted > 0 {
		recordsTruncated.WithLabelValues(tp.Topic, partitionLabel(tp.Partition)).Add(float64(deleted))
		e.log().Info("truncated partition", "topic", tp.Topic, "partition", tp.Partition,
			"before", before, "deleted", deleted)
	}
	return deleted, nil
}

func (e *PGEngine) truncate(ctx context.Context, tp Topition, before int64) (int64, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	lw, err := e.lockWatermark(ctx, tx, tp)
	if err != nil {
		return 0, err
	}

	newLow := before
	if newLow < lw.low {
		newLow = lw.low
	}
	if newLow > lw.high {
		newLow = lw.high
	}
	if newLow == lw.low {
		return 0, tx.Commit()
	}

	// Headers go first so no header row ever outlives its record.
	if _, err := tx.ExecContext(ctx, headerDeleteBelow, lw.topition, newLow); err != nil {
		return 0, classify(err)
	}
	res, err := tx.ExecContext(ctx, recordDeleteBelow, lw.topition, newLow)
	if err != nil {
		return 0, classify(err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err)
	}
	if _, err := tx.ExecContext(ctx, watermarkUpdateByID, lw.id, newLow, lw.high); err != nil {
		return 0, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}
	e.exportWatermark(tp, Watermark{Low: newLow, High: lw.high})
	return deleted, nil
}
