package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// riverQueuePublisher inserts events as River jobs so River workers
// elsewhere on the platform can consume them.
type riverQueuePublisher struct {
	db  *sql.DB
	cfg RiverQueueConfig
}

func newRiverQueuePublisher(cfg RiverQueueConfig) (*riverQueuePublisher, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("riverqueue dsn is required")
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &riverQueuePublisher{db: db, cfg: cfg}, nil
}

func (p *riverQueuePublisher) Publish(ctx context.Context, topic string, event Event) error {
	args, err := json.Marshal(event)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(envelopeMetadata(event, topic))
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(
		ctx,
		riverInsertQuery(p.cfg.Table),
		string(args),
		p.cfg.Kind,
		p.cfg.MaxAttempts,
		string(metadata),
		p.cfg.Priority,
		p.cfg.Queue,
		pq.Array(p.cfg.Tags),
	)
	return err
}

func riverInsertQuery(table string) string {
	table = strings.TrimSpace(table)
	if table == "" {
		table = "river_job"
	}
	return fmt.Sprintf(
		`INSERT INTO %s (args, kind, max_attempts, metadata, priority, queue, scheduled_at, tags)
VALUES ($1, $2, $3, $4, $5, $6, now(), $7)`,
		table,
	)
}

func (p *riverQueuePublisher) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *riverQueuePublisher) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	return p.Publish(ctx, topic, event)
}
