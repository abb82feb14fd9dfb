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

// Package retention periodically advances low watermarks and deletes the
// records below them. The sweeper only ever moves low forward, and the
// advance and the deletes share one storage transaction, so a record is
// never deleted while still claimed visible.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AbandonedCoast/tansu/pkg/storage"
)

// Config controls sweep cadence and the retention bound.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// KeepOffsets is how many of the newest offsets to retain per
	// partition. Everything below high-KeepOffsets is truncated.
	KeepOffsets int64
	// Concurrency bounds partitions swept in parallel.
	Concurrency int
	Logger      *slog.Logger
}

// Sweeper drives Engine.Truncate across every partition of the cluster.
type Sweeper struct {
	engine storage.Engine
	cfg    Config
}

// NewSweeper wires a sweeper to an engine.
func NewSweeper(engine storage.Engine, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Sweeper{engine: engine, cfg: cfg}
}

func (s *Sweeper) logger() *slog.Logger {
	if s.cfg.Logger != nil {
		return s.cfg.Logger
	}
	return slog.Default()
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger().Error("retention sweep", "error", err)
			}
		}
	}
}

// Sweep truncates every partition once. Partitions that vanish mid-sweep
// (concurrent topic deletion) are skipped, not errors.
func (s *Sweeper) Sweep(ctx context.Context) error {
	tps, err := s.engine.Topitions(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, tp := range tps {
		tp := tp
		g.Go(func() error {
			err := s.sweepPartition(ctx, tp)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func (s *Sweeper) sweepPartition(ctx context.Context, tp storage.Topition) error {
	wm, err := s.engine.Watermarks(ctx, tp)
	if err != nil {
		return err
	}
	target := wm.High - s.cfg.KeepOffsets
	if target <= wm.Low {
		return nil
	}
	deleted, err := s.engine.Truncate(ctx, tp, target)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.logger().Debug("swept partition", "topic", tp.Topic, "partition", tp.Partition,
			"low", target, "deleted", deleted)
	}
	return nil
}
