package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEngine is an in-process Engine with the same invariants as the
// Postgres engine. It exists for tests and local development; nothing about
// it is durable.
type MemoryEngine struct {
	cluster string

	mu         sync.Mutex
	topics     map[string]uuid.UUID
	partitions map[Topition]*memoryPartition
}

type memoryPartition struct {
	watermark Watermark
	records   map[int64]*memoryRecord
}

type memoryRecord struct {
	record  Record
	headers []Header
}

// NewMemoryEngine returns an empty in-memory engine for the cluster.
func NewMemoryEngine(cluster string) *MemoryEngine {
	return &MemoryEngine{
		cluster:    cluster,
		topics:     make(map[string]uuid.UUID),
		partitions: make(map[Topition]*memoryPartition),
	}
}

var _ Engine = (*MemoryEngine)(nil)

func (m *MemoryEngine) CreateTopic(ctx context.Context, name string, partitions int32) (uuid.UUID, error) {
	if name == "" || partitions <= 0 {
		return uuid.Nil, fmt.Errorf("create topic: name and partition count required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.topics[name]; ok {
		return uuid.Nil, fmt.Errorf("%w: topic %s/%s exists", ErrConflict, m.cluster, name)
	}
	id := uuid.New()
	m.topics[name] = id
	for partition := int32(0); partition < partitions; partition++ {
		m.partitions[Topition{Topic: name, Partition: partition}] = &memoryPartition{
			records: make(map[int64]*memoryRecord),
		}
	}
	return id, nil
}

func (m *MemoryEngine) DeleteTopic(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.topics[name]; !ok {
		return fmt.Errorf("%w: topic %s/%s", ErrNotFound, m.cluster, name)
	}
	delete(m.topics, name)
	for tp := range m.partitions {
		if tp.Topic == name {
			delete(m.partitions, tp)
		}
	}
	return nil
}

func (m *MemoryEngine) partition(tp Topition) (*memoryPartition, error) {
	p, ok := m.partitions[tp]
	if !ok {
		return nil, fmt.Errorf("%w: topition %s/%s", ErrNotFound, m.cluster, tp)
	}
	return p, nil
}

func (m *MemoryEngine) Produce(ctx context.Context, tp Topition, records []Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.partition(tp)
	if err != nil {
		return 0, err
	}
	base := p.watermark.High
	now := time.Now().UTC()
	for i, record := range records {
		offset := base + int64(i)
		if _, exists := p.records[offset]; exists {
			return 0, fmt.Errorf("%w: offset %d already claimed for %s", ErrConflict, offset, tp)
		}
		stored := record
		stored.Offset = offset
		if stored.Timestamp.IsZero() {
			stored.Timestamp = now
		}
		headers := stored.Headers
		stored.Headers = nil
		p.records[offset] = &memoryRecord{record: stored, headers: append([]Header(nil), headers...)}
	}
	p.watermark.High = base + int64(len(records))
	return base, nil
}

func (m *MemoryEngine) Fetch(ctx context.Context, tp Topition, offset int64, maxRecords int32) ([]Record, error) {
	if maxRecords <= 0 {
		maxRecords = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.partition(tp)
	if err != nil {
		return nil, err
	}
	if offset < p.watermark.Low {
		return nil, fmt.Errorf("%w: offset %d below low watermark %d for %s", ErrNotFound, offset, p.watermark.Low, tp)
	}
	var out []Record
	for o := offset; o < p.watermark.High && int32(len(out)) < maxRecords; o++ {
		mr, ok := p.records[o]
		if !ok {
			continue
		}
		r := mr.record
		r.Headers = append([]Header(nil), mr.headers...)
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryEngine) Watermarks(ctx context.Context, tp Topition) (Watermark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.partition(tp)
	if err != nil {
		return Watermark{}, err
	}
	return p.watermark, nil
}

func (m *MemoryEngine) AdvanceWatermark(ctx context.Context, tp Topition, low, high int64) error {
	if low < 0 || low > high {
		return fmt.Errorf("%w: watermark pair (%d, %d)", ErrInvariantViolation, low, high)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.partition(tp)
	if err != nil {
		return err
	}
	p.watermark = Watermark{Low: low, High: high}
	return nil
}

func (m *MemoryEngine) AttachHeader(ctx context.Context, tp Topition, offset int64, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.partition(tp)
	if err != nil {
		return err
	}
	mr, ok := p.records[offset]
	if !ok {
		return fmt.Errorf("%w: no record at %s/%s offset %d", ErrNotFound, m.cluster, tp, offset)
	}
	mr.headers = append(mr.headers, Header{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
	})
	return nil
}

func (m *MemoryEngine) Headers(ctx context.Context, tp Topition, offset int64) ([]Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.partition(tp)
	if err != nil {
		return nil, err
	}
	mr, ok := p.records[offset]
	if !ok {
		return nil, nil
	}
	return append([]Header(nil), mr.headers...), nil
}

func (m *MemoryEngine) ListOffsets(ctx context.Context, tp Topition, kind OffsetKind) (int64, error) {
	wm, err := m.Watermarks(ctx, tp)
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

func (m *MemoryEngine) Truncate(ctx context.Context, tp Topition, before int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.partition(tp)
	if err != nil {
		return 0, err
	}
	newLow := before
	if newLow < p.watermark.Low {
		newLow = p.watermark.Low
	}
	if newLow > p.watermark.High {
		newLow = p.watermark.High
	}
	var deleted int64
	for o := range p.records {
		if o < newLow {
			delete(p.records, o)
			deleted++
		}
	}
	p.watermark.Low = newLow
	return deleted, nil
}

func (m *MemoryEngine) Topitions(ctx context.Context) ([]Topition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tps := make([]Topition, 0, len(m.partitions))
	for tp := range m.partitions {
		tps = append(tps, tp)
	}
	sort.Slice(tps, func(i, j int) bool {
		if tps[i].Topic != tps[j].Topic {
			return tps[i].Topic < tps[j].Topic
		}
		return tps[i].Partition < tps[j].Partition
	})
	return tps, nil
}

func (m *MemoryEngine) Ping(ctx context.Context) error { return nil }

func (m *MemoryEngine) Close() error { return nil }
