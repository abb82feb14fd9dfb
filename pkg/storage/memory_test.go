package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newMemoryFixture(t *testing.T, partitions int32) *MemoryEngine {
	t.Helper()
	engine := NewMemoryEngine("prod")
	_, err := engine.CreateTopic(context.Background(), "orders", partitions)
	require.NoError(t, err)
	return engine
}

func TestMemoryOffsetMonotonicity(t *testing.T) {
	engine := newMemoryFixture(t, 1)
	ctx := context.Background()
	tp := Topition{Topic: "orders", Partition: 0}

	const producers = 8
	const perProducer = 25

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				_, err := engine.Produce(ctx, tp, []Record{{Value: []byte("x")}})
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	wm, err := engine.Watermarks(ctx, tp)
	require.NoError(t, err)
	require.Equal(t, int64(producers*perProducer), wm.High)

	// The offset set is exactly {0..n-1}: no duplicates, no gaps.
	records, err := engine.Fetch(ctx, tp, 0, producers*perProducer)
	require.NoError(t, err)
	require.Len(t, records, producers*perProducer)
	for i, r := range records {
		require.Equal(t, int64(i), r.Offset)
	}
}

func TestMemoryWatermarkCoverage(t *testing.T) {
	engine := newMemoryFixture(t, 1)
	ctx := context.Background()
	tp := Topition{Topic: "orders", Partition: 0}

	base, err := engine.Produce(ctx, tp, []Record{{Value: []byte("A")}})
	require.NoError(t, err)

	wm, err := engine.Watermarks(ctx, tp)
	require.NoError(t, err)
	require.GreaterOrEqual(t, wm.High, base+1)
}

func TestMemoryHeaderAttachRequiresRecord(t *testing.T) {
	engine := newMemoryFixture(t, 1)
	ctx := context.Background()
	tp := Topition{Topic: "orders", Partition: 0}

	err := engine.AttachHeader(ctx, tp, 0, []byte("trace"), []byte("abc"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = engine.Produce(ctx, tp, []Record{{Value: []byte("A")}})
	require.NoError(t, err)

	require.NoError(t, engine.AttachHeader(ctx, tp, 0, []byte("trace"), []byte("abc")))
}

func TestMemoryMultiHeaderAccumulation(t *testing.T) {
	engine := newMemoryFixture(t, 1)
	ctx := context.Background()
	tp := Topition{Topic: "orders", Partition: 0}

	_, err := engine.Produce(ctx, tp, []Record{{Value: []byte("A")}})
	require.NoError(t, err)

	require.NoError(t, engine.AttachHeader(ctx, tp, 0, []byte("k1"), []byte("v1")))
	require.NoError(t, engine.AttachHeader(ctx, tp, 0, []byte("k1"), []byte("v2")))

	headers, err := engine.Headers(ctx, tp, 0)
	require.NoError(t, err)
	require.Len(t, headers, 2, "same-key attachments accumulate, not overwrite")
	require.Equal(t, []byte("v1"), headers[0].Value)
	require.Equal(t, []byte("v2"), headers[1].Value)
}

func TestMemoryTruncateHidesRecordsBelowLow(t *testing.T) {
	engine := newMemoryFixture(t, 1)
	ctx := context.Background()
	tp := Topition{Topic: "orders", Partition: 0}

	for i := 0; i < 10; i++ {
		_, err := engine.Produce(ctx, tp, []Record{{Value: []byte{byte(i)}}})
		require.NoError(t, err)
	}

	deleted, err := engine.Truncate(ctx, tp, 4)
	require.NoError(t, err)
	require.Equal(t, int64(4), deleted)

	_, err = engine.Fetch(ctx, tp, 0, 10)
	require.ErrorIs(t, err, ErrNotFound)

	records, err := engine.Fetch(ctx, tp, 4, 10)
	require.NoError(t, err)
	require.Len(t, records, 6)
	require.Equal(t, int64(4), records[0].Offset)

	earliest, err := engine.ListOffsets(ctx, tp, EarliestOffset)
	require.NoError(t, err)
	require.Equal(t, int64(4), earliest)
}

func TestMemoryPartitionsIndependent(t *testing.T) {
	engine := newMemoryFixture(t, 2)
	ctx := context.Background()

	_, err := engine.Produce(ctx, Topition{Topic: "orders", Partition: 0}, []Record{{Value: []byte("A")}})
	require.NoError(t, err)

	wm, err := engine.Watermarks(ctx, Topition{Topic: "orders", Partition: 1})
	require.NoError(t, err)
	require.Equal(t, Watermark{}, wm)
}

// The end-to-end scenario: produce, cover, attach, idempotent advance,
// attach past the end fails.
func TestMemoryEndToEnd(t *testing.T) {
	engine := NewMemoryEngine("prod")
	ctx := context.Background()
	tp := Topition{Topic: "orders", Partition: 0}

	_, err := engine.CreateTopic(ctx, "orders", 1)
	require.NoError(t, err)

	base, err := engine.Produce(ctx, tp, []Record{{Value: []byte("A")}})
	require.NoError(t, err)
	require.Equal(t, int64(0), base)

	wm, err := engine.Watermarks(ctx, tp)
	require.NoError(t, err)
	require.Equal(t, Watermark{Low: 0, High: 1}, wm)

	require.NoError(t, engine.AttachHeader(ctx, tp, 0, []byte("trace"), []byte("abc")))
	headers, err := engine.Headers(ctx, tp, 0)
	require.NoError(t, err)
	require.Len(t, headers, 1)

	// Re-advancing to the same pair is a no-op.
	require.NoError(t, engine.AdvanceWatermark(ctx, tp, 0, 1))
	wm, err = engine.Watermarks(ctx, tp)
	require.NoError(t, err)
	require.Equal(t, Watermark{Low: 0, High: 1}, wm)

	// Offset 1 has no record yet.
	err = engine.AttachHeader(ctx, tp, 1, []byte("trace"), []byte("def"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCreateTopicConflict(t *testing.T) {
	engine := newMemoryFixture(t, 1)
	_, err := engine.CreateTopic(context.Background(), "orders", 1)
	require.ErrorIs(t, err, ErrConflict)
}

func TestMemoryDeleteTopic(t *testing.T) {
	engine := newMemoryFixture(t, 2)
	ctx := context.Background()

	require.NoError(t, engine.DeleteTopic(ctx, "orders"))
	require.ErrorIs(t, engine.DeleteTopic(ctx, "orders"), ErrNotFound)

	_, err := engine.Watermarks(ctx, Topition{Topic: "orders", Partition: 0})
	require.ErrorIs(t, err, ErrNotFound)
}
