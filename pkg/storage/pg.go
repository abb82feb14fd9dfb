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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/AbandonedCoast/tansu/pkg/cache"
)

// PGConfig configures the Postgres-backed engine.
type PGConfig struct {
	// DSN is a lib/pq connection string.
	DSN string
	// Cluster is the namespace every statement is scoped to. Required.
	Cluster string
	// MaxOpenConns / MaxIdleConns / ConnMaxLifetime tune the pool. Zero
	// values keep database/sql defaults.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// ProduceRetries bounds internal retries of a produce transaction that
	// lost an offset race. Zero means a sensible default.
	ProduceRetries int
	// TopitionCacheSize bounds the locator cache in entries. Zero means a
	// sensible default.
	TopitionCacheSize int
	Logger            *slog.Logger
	// Health, if set, receives every engine operation outcome.
	Health *HealthMonitor
}

const (
	defaultProduceRetries    = 5
	defaultTopitionCacheSize = 4096
)

// PGEngine implements Engine on Postgres. All multi-step operations run in a
// single transaction; the watermark row is locked FOR UPDATE wherever a new
// pair is computed from the old one.
var _ Engine = (*PGEngine)(nil)

type PGEngine struct {
	db        *sql.DB
	cluster   string
	retries   int
	logger    *slog.Logger
	health    *HealthMonitor
	topitions *cache.TopitionCache
}

// NewPGEngine opens the pool, verifies connectivity, and ensures the schema.
func NewPGEngine(ctx context.Context, cfg PGConfig) (*PGEngine, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage: dsn required")
	}
	if cfg.Cluster == "" {
		return nil, errors.New("storage: cluster required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", classify(err))
	}
	retries := cfg.ProduceRetries
	if retries <= 0 {
		retries = defaultProduceRetries
	}
	cacheSize := cfg.TopitionCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultTopitionCacheSize
	}
	e := &PGEngine{
		db:        db,
		cluster:   cfg.Cluster,
		retries:   retries,
		logger:    cfg.Logger,
		health:    cfg.Health,
		topitions: cache.NewTopitionCache(cacheSize),
	}
	if err := e.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *PGEngine) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

// observe records latency, error counters, and health for one operation.
func (e *PGEngine) observe(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	operationLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		operationErrors.WithLabelValues(op, ErrorKind(err)).Inc()
	}
	if e.health != nil {
		e.health.RecordOperation(op, elapsed, err)
		healthState.Set(healthStateValue(e.health.State()))
	}
}

func healthStateValue(s HealthState) float64 {
	switch s {
	case StateDegraded:
		return 1
	case StateUnavailable:
		return 2
	default:
		return 0
	}
}

func partitionLabel(p int32) string {
	return strconv.Itoa(int(p))
}

const topitionSelect = `select topition.id
 from topition, topic, cluster
 where cluster.name = $1
 and topic.cluster = cluster.id
 and topic.name = $2
 and topition.topic = topic.id
 and topition.partition = $3`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// resolveTopition is the Partition Locator: one join from the name triple to
// the internal id. Topition rows are immutable, so resolutions cache
// indefinitely; misses are deduplicated per key.
func (e *PGEngine) resolveTopition(ctx context.Context, tp Topition) (int64, error) {
	return e.topitions.GetOrResolve(tp.Topic, tp.Partition, func() (int64, error) {
		return e.lookupTopition(ctx, e.db, tp)
	})
}

// lookupTopition resolves through q without touching the cache. Used inside
// transactions, where the resolution must see the transaction's own state.
func (e *PGEngine) lookupTopition(ctx context.Context, q querier, tp Topition) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, topitionSelect, e.cluster, tp.Topic, tp.Partition).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: topition %s/%s", ErrNotFound, e.cluster, tp)
	}
	if err != nil {
		return 0, classify(err)
	}
	return id, nil
}

// Ping verifies the engine is reachable.
func (e *PGEngine) Ping(ctx context.Context) error {
	start := time.Now()
	err := classify(e.db.PingContext(ctx))
	e.observe("ping", start, err)
	return err
}

func (e *PGEngine) Close() error {
	return e.db.Close()
}

// begin starts a transaction and classifies the failure mode.
func (e *PGEngine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	return tx, nil
}
