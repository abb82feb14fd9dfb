package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const recordInsert = `insert into record (topition, offset_id, ts, k, v)
 values ($1, $2, $3, $4, $5)`

const headerInsertByID = `insert into header (topition, offset_id, k, v)
 values ($1, $2, $3, $4)`

// Produce appends a batch of records to the partition. One transaction:
// lock the watermark row, assign offsets from the locked high value, insert
// records and their headers, advance high to the next free offset.
//
// The record table's (topition, offset_id) uniqueness is the backstop: if
// another transaction slipped an offset in despite the row lock, the insert
// fails with a unique violation and the whole transaction retries against a
// freshly read watermark.
func (e *PGEngine) Produce(ctx context.Context, tp Topition, records []Record) (int64, error) {
	start := time.Now()
	base, err := e.produce(ctx, tp, records)
	e.observe("produce", start, err)
	if err != nil {
		e.log().Error("produce", "topic", tp.Topic, "partition", tp.Partition,
			"records", len(records), "error", err)
		return base, err
	}
	recordsAppended.WithLabelValues(tp.Topic, partitionLabel(tp.Partition)).Add(float64(len(records)))
	return base, nil
}

func (e *PGEngine) produce(ctx context.Context, tp Topition, records []Record) (int64, error) {
	if len(records) == 0 {
		wm, err := e.watermarks(ctx, tp)
		if err != nil {
			return 0, err
		}
		return wm.High, nil
	}

	var lastErr error
	for attempt := 0; attempt < e.retries; attempt++ {
		base, err := e.produceOnce(ctx, tp, records)
		if err == nil {
			return base, nil
		}
		if !errors.Is(err, ErrConflict) {
			return 0, err
		}
		// Lost the offset race; re-read the advanced watermark and try
		// again.
		lastErr = err
		e.log().Debug("produce retry after offset conflict",
			"topic", tp.Topic, "partition", tp.Partition, "attempt", attempt+1)
	}
	return 0, fmt.Errorf("produce: retries exhausted: %w", lastErr)
}

func (e *PGEngine) produceOnce(ctx context.Context, tp Topition, records []Record) (int64, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	lw, err := e.lockWatermark(ctx, tx, tp)
	if err != nil {
		return 0, err
	}

	base := lw.high
	now := time.Now().UTC()
	for i, record := range records {
		offset := base + int64(i)
		ts := record.Timestamp
		if ts.IsZero() {
			ts = now
		}
		if _, err := tx.ExecContext(ctx, recordInsert, lw.topition, offset, ts, record.Key, record.Value); err != nil {
			return 0, classify(err)
		}
		for _, header := range record.Headers {
			if _, err := tx.ExecContext(ctx, headerInsertByID, lw.topition, offset, header.Key, header.Value); err != nil {
				return 0, classify(err)
			}
		}
	}

	high := base + int64(len(records))
	if _, err := tx.ExecContext(ctx, watermarkUpdateByID, lw.id, lw.low, high); err != nil {
		return 0, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}
	e.exportWatermark(tp, Watermark{Low: lw.low, High: high})
	return base, nil
}
