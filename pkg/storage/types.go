package storage

import (
	"fmt"
	"time"
)

// Topition names one ordered shard of a topic's log. The cluster scope is
// carried by the engine, not by the value.
type Topition struct {
	Topic     string
	Partition int32
}

func (t Topition) String() string {
	return fmt.Sprintf("%s-%d", t.Topic, t.Partition)
}

// Header is an auxiliary key/value pair attached to a record, outside the
// record's primary payload. A nil Value represents a tombstone.
type Header struct {
	Key   []byte
	Value []byte
}

// Record is one message in a partition's log. Offset is assigned by the
// produce path and is immutable after insert.
type Record struct {
	Offset    int64
	Timestamp time.Time
	Key       []byte
	Value     []byte
	Headers   []Header
}

// Watermark describes the valid offset window of a partition. Low is the
// oldest retrievable offset; High is the next offset to be assigned, so the
// visible range is [Low, High).
type Watermark struct {
	Low  int64
	High int64
}

// OffsetKind selects which boundary ListOffsets reports.
type OffsetKind int

const (
	EarliestOffset OffsetKind = iota
	LatestOffset
)

func (k OffsetKind) String() string {
	switch k {
	case EarliestOffset:
		return "earliest"
	case LatestOffset:
		return "latest"
	default:
		return fmt.Sprintf("offsetkind(%d)", int(k))
	}
}
