package storage

import (
	"context"
	"fmt"
)

// ddl is executed in order inside one transaction. Statements are
// idempotent so a restart against an initialized database is a no-op.
//
// "offset" is a reserved word in Postgres; the column is offset_id
// throughout.
var ddl = []string{
	`create table if not exists cluster (
 id serial primary key,
 name text not null unique,
 last_updated timestamptz not null default now()
)`,
	`create table if not exists topic (
 id serial primary key,
 cluster integer not null references cluster (id),
 name text not null,
 uuid uuid not null,
 unique (cluster, name)
)`,
	`create table if not exists topition (
 id serial primary key,
 topic integer not null references topic (id),
 partition integer not null,
 unique (topic, partition)
)`,
	`create table if not exists record (
 id bigserial primary key,
 topition integer not null references topition (id),
 offset_id bigint not null,
 ts timestamptz not null,
 k bytea,
 v bytea,
 unique (topition, offset_id)
)`,
	`create table if not exists header (
 id bigserial primary key,
 topition integer not null references topition (id),
 offset_id bigint not null,
 k bytea,
 v bytea
)`,
	`create index if not exists header_topition_offset_idx
 on header (topition, offset_id)`,
	`create table if not exists watermark (
 id serial primary key,
 topition integer not null unique references topition (id),
 low bigint not null default 0,
 high bigint not null default 0,
 check (low >= 0 and low <= high)
)`,
}

func (e *PGEngine) ensureSchema(ctx context.Context) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", classify(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ensure schema: %w", classify(err))
	}
	return nil
}
