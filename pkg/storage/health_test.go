package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestHealthStateTransitions(t *testing.T) {
	monitor := NewHealthMonitor(HealthConfig{
		Window:      time.Minute,
		LatencyWarn: time.Millisecond,
		LatencyCrit: time.Hour,
		ErrorWarn:   0.5,
		ErrorCrit:   0.8,
		MaxSamples:  64,
	})

	if got := monitor.State(); got != StateHealthy {
		t.Fatalf("expected initial state healthy got %s", got)
	}

	monitor.RecordOperation("produce", 2*time.Millisecond, nil)
	if got := monitor.State(); got != StateDegraded {
		t.Fatalf("expected degraded after high latency got %s", got)
	}

	for i := 0; i < 10; i++ {
		monitor.RecordOperation("produce", 100*time.Microsecond, errors.New("boom"))
	}
	if got := monitor.State(); got != StateUnavailable {
		t.Fatalf("expected unavailable after repeated errors got %s", got)
	}

	// Recover with a run of fast, successful operations.
	for i := 0; i < 40; i++ {
		monitor.RecordOperation("fetch", 100*time.Microsecond, nil)
	}
	if got := monitor.State(); got != StateHealthy {
		t.Fatalf("expected healthy after recovery got %s", got)
	}
}

func TestHealthIgnoresLogSemanticErrors(t *testing.T) {
	monitor := NewHealthMonitor(HealthConfig{
		Window:      time.Minute,
		LatencyWarn: time.Second,
		ErrorWarn:   0.1,
		ErrorCrit:   0.2,
	})

	// NotFound and Conflict are normal log behavior, not engine failures.
	for i := 0; i < 20; i++ {
		monitor.RecordOperation("attach_header", time.Microsecond, fmt.Errorf("%w: no record", ErrNotFound))
		monitor.RecordOperation("produce", time.Microsecond, fmt.Errorf("%w: offset race", ErrConflict))
	}
	if got := monitor.State(); got != StateHealthy {
		t.Fatalf("expected healthy got %s", got)
	}

	for i := 0; i < 20; i++ {
		monitor.RecordOperation("produce", time.Microsecond, fmt.Errorf("%w: conn refused", ErrUnavailable))
	}
	if got := monitor.State(); got == StateHealthy {
		t.Fatalf("expected degraded or worse after engine failures")
	}
}

func TestHealthSnapshot(t *testing.T) {
	monitor := NewHealthMonitor(HealthConfig{Window: time.Minute})
	monitor.RecordOperation("produce", 10*time.Millisecond, nil)
	monitor.RecordOperation("produce", 20*time.Millisecond, errors.New("boom"))

	snap := monitor.Snapshot()
	if snap.AvgLatency != 15*time.Millisecond {
		t.Fatalf("unexpected avg latency %s", snap.AvgLatency)
	}
	if snap.ErrorRate != 0.5 {
		t.Fatalf("unexpected error rate %f", snap.ErrorRate)
	}
	if snap.Since.IsZero() {
		t.Fatalf("expected state timestamp")
	}
}
