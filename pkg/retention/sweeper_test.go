package retention

import (
	"context"
	"testing"

	"github.com/AbandonedCoast/tansu/pkg/storage"
)

func TestSweepKeepsNewestOffsets(t *testing.T) {
	engine := storage.NewMemoryEngine("prod")
	ctx := context.Background()
	if _, err := engine.CreateTopic(ctx, "orders", 2); err != nil {
		t.Fatalf("create topic: %v", err)
	}

	tp0 := storage.Topition{Topic: "orders", Partition: 0}
	tp1 := storage.Topition{Topic: "orders", Partition: 1}
	for i := 0; i < 10; i++ {
		if _, err := engine.Produce(ctx, tp0, []storage.Record{{Value: []byte("x")}}); err != nil {
			t.Fatalf("produce: %v", err)
		}
	}
	if _, err := engine.Produce(ctx, tp1, []storage.Record{{Value: []byte("y")}}); err != nil {
		t.Fatalf("produce: %v", err)
	}

	sweeper := NewSweeper(engine, Config{KeepOffsets: 3})
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	wm, err := engine.Watermarks(ctx, tp0)
	if err != nil {
		t.Fatalf("watermarks: %v", err)
	}
	if wm.Low != 7 || wm.High != 10 {
		t.Fatalf("unexpected watermark %+v", wm)
	}

	// A partition already within bounds is untouched.
	wm, err = engine.Watermarks(ctx, tp1)
	if err != nil {
		t.Fatalf("watermarks: %v", err)
	}
	if wm.Low != 0 || wm.High != 1 {
		t.Fatalf("unexpected watermark %+v", wm)
	}

	// Records below the new low are gone from the read path.
	if _, err := engine.Fetch(ctx, tp0, 0, 10); err == nil {
		t.Fatalf("expected fetch below low to fail")
	}
}

func TestSweepEmptyCluster(t *testing.T) {
	engine := storage.NewMemoryEngine("prod")
	sweeper := NewSweeper(engine, Config{KeepOffsets: 1})
	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
}
