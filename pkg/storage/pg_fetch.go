package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const recordRangeSelect = `select offset_id, ts, k, v
 from record
 where topition = $1
 and offset_id >= $2
 and offset_id < $3
 order by offset_id
 limit $4`

const headerRangeSelect = `select offset_id, k, v
 from header
 where topition = $1
 and offset_id >= $2
 and offset_id < $3
 order by offset_id, id`

// Fetch reads records starting at offset, headers included. The visible
// window is taken from the watermark row inside the same transaction, so a
// record is never returned without its watermark coverage and never after
// retention has advanced low past it.
func (e *PGEngine) Fetch(ctx context.Context, tp Topition, offset int64, maxRecords int32) ([]Record, error) {
	start := time.Now()
	records, err := e.fetch(ctx, tp, offset, maxRecords)
	e.observe("fetch", start, err)
	return records, err
}

func (e *PGEngine) fetch(ctx context.Context, tp Topition, offset int64, maxRecords int32) ([]Record, error) {
	if maxRecords <= 0 {
		maxRecords = 1
	}
	id, err := e.resolveTopition(ctx, tp)
	if err != nil {
		return nil, err
	}

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback()

	var wm Watermark
	if err := tx.QueryRowContext(ctx, `select low, high from watermark where topition = $1`, id).
		Scan(&wm.Low, &wm.High); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: topition %s/%s has no watermark row", ErrInvariantViolation, e.cluster, tp)
		}
		return nil, classify(err)
	}
	if offset < wm.Low {
		return nil, fmt.Errorf("%w: offset %d below low watermark %d for %s", ErrNotFound, offset, wm.Low, tp)
	}
	if offset >= wm.High {
		return nil, nil
	}

	end := wm.High
	rows, err := tx.QueryContext(ctx, recordRangeSelect, id, offset, end, maxRecords)
	if err != nil {
		return nil, classify(err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	// Hydrate headers for the fetched window with one range scan.
	last := records[len(records)-1].Offset
	hrows, err := tx.QueryContext(ctx, headerRangeSelect, id, records[0].Offset, last+1)
	if err != nil {
		return nil, classify(err)
	}
	if err := hydrateHeaders(records, hrows); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return records, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Offset, &r.Timestamp, &r.Key, &r.Value); err != nil {
			return nil, classify(err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return records, nil
}

func hydrateHeaders(records []Record, rows *sql.Rows) error {
	defer rows.Close()
	byOffset := make(map[int64]*Record, len(records))
	for i := range records {
		byOffset[records[i].Offset] = &records[i]
	}
	for rows.Next() {
		var offset int64
		var h Header
		if err := rows.Scan(&offset, &h.Key, &h.Value); err != nil {
			return classify(err)
		}
		if r, ok := byOffset[offset]; ok {
			r.Headers = append(r.Headers, h)
		}
	}
	if err := rows.Err(); err != nil {
		return classify(err)
	}
	return nil
}
