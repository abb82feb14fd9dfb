package storage

import (
	"context"
	"fmt"
	"time"
)

// headerAttach resolves the target record through the full name join and
// inserts the header in the same statement. There is no window between
// lookup and insert for the record to disappear, and a caller can never
// smuggle in a topition id it does not hold.
const headerAttach = `insert into header (topition, offset_id, k, v)
 select record.topition, record.offset_id, $5, $6
 from record, topition, topic, cluster
 where cluster.name = $1
 and topic.cluster = cluster.id
 and topic.name = $2
 and topition.topic = topic.id
 and topition.partition = $3
 and record.topition = topition.id
 and record.offset_id = $4`

const headerSelect = `select header.k, header.v
 from header
 where header.topition = $1
 and header.offset_id = $2
 order by header.id`

// AttachHeader appends one key/value row to the record at (tp, offset).
// Duplicate keys accumulate; ordering among same-key headers is attachment
// order, so readers can implement last-value-wins themselves.
func (e *PGEngine) AttachHeader(ctx context.Context, tp Topition, offset int64, key, value []byte) error {
	start := time.Now()
	err := e.attachHeader(ctx, tp, offset, key, value)
	e.observe("attach_header", start, err)
	if err != nil {
		e.log().Error("attach header", "topic", tp.Topic, "partition", tp.Partition,
			"offset", offset, "error", err)
		return err
	}
	headersAttached.WithLabelValues(tp.Topic, partitionLabel(tp.Partition)).Inc()
	return nil
}

func (e *PGEngine) attachHeader(ctx context.Context, tp Topition, offset int64, key, value []byte) error {
	res, err := e.db.ExecContext(ctx, headerAttach, e.cluster, tp.Topic, tp.Partition, offset, key, value)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	// The select-insert matched nothing: the record does not exist. A
	// silent zero-row insert would let the caller believe the metadata was
	// recorded.
	if affected == 0 {
		return fmt.Errorf("%w: no record at %s/%s offset %d", ErrNotFound, e.cluster, tp, offset)
	}
	return nil
}

// Headers returns the headers attached to (tp, offset) in attachment order.
func (e *PGEngine) Headers(ctx context.Context, tp Topition, offset int64) ([]Header, error) {
	start := time.Now()
	headers, err := e.headers(ctx, tp, offset)
	e.observe("headers", start, err)
	return headers, err
}

func (e *PGEngine) headers(ctx context.Context, tp Topition, offset int64) ([]Header, error) {
	id, err := e.resolveTopition(ctx, tp)
	if err != nil {
		return nil, err
	}
	rows, err := e.db.QueryContext(ctx, headerSelect, id, offset)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var headers []Header
	for rows.Next() {
		var h Header
		if err := rows.Scan(&h.Key, &h.Value); err != nil {
			return nil, classify(err)
		}
		headers = append(headers, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return headers, nil
}
