// Copyright 2025 AbandonedCoast.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"errors"
	"sync"
	"time"
)

// HealthState is the monitor's view of the relational engine.
type HealthState string

const (
	StateHealthy     HealthState = "healthy"
	StateDegraded    HealthState = "degraded"
	StateUnavailable HealthState = "unavailable"
)

// HealthConfig tunes the sliding window and thresholds.
type HealthConfig struct {
	// Window is how far back samples count.
	Window time.Duration
	// LatencyWarn/LatencyCrit are average-latency thresholds for the
	// degraded and unavailable states.
	LatencyWarn time.Duration
	LatencyCrit time.Duration
	// ErrorWarn/ErrorCrit are error-rate thresholds (0..1).
	ErrorWarn float64
	ErrorCrit float64
	// MaxSamples caps the ring regardless of window.
	MaxSamples int
}

func (c HealthConfig) withDefaults() HealthConfig {
	if c.Window <= 0 {
		c.Window = 30 * time.Second
	}
	if c.LatencyWarn <= 0 {
		c.LatencyWarn = 250 * time.Millisecond
	}
	if c.LatencyCrit <= 0 {
		c.LatencyCrit = 2 * time.Second
	}
	if c.ErrorWarn <= 0 {
		c.ErrorWarn = 0.1
	}
	if c.ErrorCrit <= 0 {
		c.ErrorCrit = 0.5
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = 256
	}
	return c
}

type healthSample struct {
	at      time.Time
	latency time.Duration
	failed  bool
}

// HealthSnapshot is a point-in-time view for readiness checks and metrics.
type HealthSnapshot struct {
	State      HealthState
	AvgLatency time.Duration
	ErrorRate  float64
	Since      time.Time
}

// HealthMonitor watches engine operation outcomes over a sliding window and
// classifies the engine as healthy, degraded, or unavailable. NotFound and
// Conflict are normal log semantics, not engine failures, and do not count
// against the error rate.
type HealthMonitor struct {
	cfg HealthConfig

	mu      sync.Mutex
	samples []healthSample
	state   HealthState
	since   time.Time
}

// NewHealthMonitor creates a monitor in the healthy state.
func NewHealthMonitor(cfg HealthConfig) *HealthMonitor {
	return &HealthMonitor{
		cfg:   cfg.withDefaults(),
		state: StateHealthy,
		since: time.Now(),
	}
}

// RecordOperation feeds one operation outcome into the window. The op name
// is accepted for call-site symmetry with the metrics path.
func (m *HealthMonitor) RecordOperation(op string, latency time.Duration, err error) {
	failed := err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrConflict) &&
		!errors.Is(err, ErrInvariantViolation)

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.samples = append(m.samples, healthSample{at: now, latency: latency, failed: failed})
	if len(m.samples) > m.cfg.MaxSamples {
		m.samples = m.samples[len(m.samples)-m.cfg.MaxSamples:]
	}
	m.pruneLocked(now)
	m.reclassifyLocked(now)
}

// State returns the current classification.
func (m *HealthMonitor) State() HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current classification plus window aggregates.
func (m *HealthMonitor) Snapshot() HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	avg, rate := m.aggregatesLocked()
	return HealthSnapshot{State: m.state, AvgLatency: avg, ErrorRate: rate, Since: m.since}
}

func (m *HealthMonitor) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	first := 0
	for first < len(m.samples) && m.samples[first].at.Before(cutoff) {
		first++
	}
	if first > 0 {
		m.samples = m.samples[first:]
	}
}

func (m *HealthMonitor) aggregatesLocked() (time.Duration, float64) {
	if len(m.samples) == 0 {
		return 0, 0
	}
	var total time.Duration
	failed := 0
	for _, s := range m.samples {
		total += s.latency
		if s.failed {
			failed++
		}
	}
	avg := total / time.Duration(len(m.samples))
	rate := float64(failed) / float64(len(m.samples))
	return avg, rate
}

func (m *HealthMonitor) reclassifyLocked(now time.Time) {
	avg, rate := m.aggregatesLocked()
	next := StateHealthy
	switch {
	case rate >= m.cfg.ErrorCrit || avg >= m.cfg.LatencyCrit:
		next = StateUnavailable
	case rate >= m.cfg.ErrorWarn || avg >= m.cfg.LatencyWarn:
		next = StateDegraded
	}
	if next != m.state {
		m.state = next
		m.since = now
	}
}
