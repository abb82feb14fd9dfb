package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const clusterUpsert = `insert into cluster (name)
 values ($1)
 on conflict (name)
 do update set last_updated = now()
 returning id`

const topicInsert = `insert into topic (cluster, name, uuid)
 values ($1, $2, $3)
 returning id`

const topitionInsert = `insert into topition (topic, partition)
 values ($1, $2)
 returning id`

const watermarkInsert = `insert into watermark (topition, low, high)
 values ($1, 0, 0)`

const topitionsByCluster = `select topic.name, topition.partition
 from topition, topic, cluster
 where cluster.name = $1
 and topic.cluster = cluster.id
 and topition.topic = topic.id
 order by topic.name, topition.partition`

// CreateTopic inserts the topic, its topitions, and one watermark row per
// topition (low = high = 0), all in one transaction. This is the storage
// primitive only; validation and the surrounding workflow live with the
// administrative caller.
func (e *PGEngine) CreateTopic(ctx context.Context, name string, partitions int32) (uuid.UUID, error) {
	start := time.Now()
	id, err := e.createTopic(ctx, name, partitions)
	e.observe("create_topic", start, err)
	if err != nil {
		e.log().Error("create topic", "topic", name, "partitions", partitions, "error", err)
		return uuid.Nil, err
	}
	e.log().Info("created topic", "topic", name, "uuid", id, "partitions", partitions)
	return id, nil
}

func (e *PGEngine) createTopic(ctx context.Context, name string, partitions int32) (uuid.UUID, error) {
	if name == "" || partitions <= 0 {
		return uuid.Nil, fmt.Errorf("create topic: name and partition count required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback()

	var clusterID int64
	if err := tx.QueryRowContext(ctx, clusterUpsert, e.cluster).Scan(&clusterID); err != nil {
		return uuid.Nil, classify(err)
	}

	topicUUID := uuid.New()
	var topicID int64
	// Duplicate (cluster, name) trips the unique constraint -> ErrConflict.
	if err := tx.QueryRowContext(ctx, topicInsert, clusterID, name, topicUUID).Scan(&topicID); err != nil {
		return uuid.Nil, classify(err)
	}

	for partition := int32(0); partition < partitions; partition++ {
		var topitionID int64
		if err := tx.QueryRowContext(ctx, topitionInsert, topicID, partition).Scan(&topitionID); err != nil {
			return uuid.Nil, classify(err)
		}
		if _, err := tx.ExecContext(ctx, watermarkInsert, topitionID); err != nil {
			return uuid.Nil, classify(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, classify(err)
	}
	return topicUUID, nil
}

// deleteByTopic statements run in dependency order: headers, records,
// watermarks, topitions, then the topic row itself.
var deleteByTopic = []struct {
	table string
	stmt  string
}{
	{"header", `delete from header
 using topition, topic, cluster
 where cluster.name = $1
 and topic.cluster = cluster.id
 and topic.name = $2
 and topition.topic = topic.id
 and header.topition = topition.id`},
	{"record", `delete from record
 using topition, topic, cluster
 where cluster.name = $1
 and topic.cluster = cluster.id
 and topic.name = $2
 and topition.topic = topic.id
 and record.topition = topition.id`},
	{"watermark", `delete from watermark
 using topition, topic, cluster
 where cluster.name = $1
 and topic.cluster = cluster.id
 and topic.name = $2
 and topition.topic = topic.id
 and watermark.topition = topition.id`},
	{"topition", `delete from topition
 using topic, cluster
 where cluster.name = $1
 and topic.cluster = cluster.id
 and topic.name = $2
 and topition.topic = topic.id`},
	{"topic", `delete from topic
 using cluster
 where cluster.name = $1
 and topic.cluster = cluster.id
 and topic.name = $2`},
}

// DeleteTopic removes the topic and everything hanging off it.
func (e *PGEngine) DeleteTopic(ctx context.Context, name string) error {
	start := time.Now()
	err := e.deleteTopic(ctx, name)
	e.observe("delete_topic", start, err)
	if err != nil {
		e.log().Error("delete topic", "topic", name, "error", err)
		return err
	}
	e.topitions.DeleteTopic(name)
	e.log().Info("deleted topic", "topic", name)
	return nil
}

func (e *PGEngine) deleteTopic(ctx context.Context, name string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range deleteByTopic {
		res, err := tx.ExecContext(ctx, d.stmt, e.cluster, name)
		if err != nil {
			return fmt.Errorf("delete %s rows: %w", d.table, classify(err))
		}
		if d.table == "topic" {
			affected, err := res.RowsAffected()
			if err != nil {
				return classify(err)
			}
			if affected == 0 {
				return fmt.Errorf("%w: topic %s/%s", ErrNotFound, e.cluster, name)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// Topitions enumerates every partition in the cluster.
func (e *PGEngine) Topitions(ctx context.Context) ([]Topition, error) {
	start := time.Now()
	tps, err := e.listTopitions(ctx)
	e.observe("topitions", start, err)
	return tps, err
}

func (e *PGEngine) listTopitions(ctx context.Context) ([]Topition, error) {
	rows, err := e.db.QueryContext(ctx, topitionsByCluster, e.cluster)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var tps []Topition
	for rows.Next() {
		var tp Topition
		if err := rows.Scan(&tp.Topic, &tp.Partition); err != nil {
			return nil, classify(err)
		}
		tps = append(tps, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return tps, nil
}
