package syncfeed

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// MirrorConfig configures the best-effort Kafka mirror of the change feed.
type MirrorConfig struct {
	Brokers []string
	Topic   string

	// BatchSize caps how many events are fetched per poll.
	BatchSize int
	// PollInterval is how often to poll sync_events when idle.
	PollInterval time.Duration
}

// Mirror polls sync_events globally (not per-owner) past a watermark cursor
// and republishes each event to Kafka, keyed by aggregate type and id, so downstream
// consumers (search indexers, analytics) can subscribe without querying
// Postgres directly. The feed itself never depends on this succeeding:
// sync_events carries no delivery-state column, so a mirror outage only
// delays downstream consumers, never blocks pull-sync or the WebSocket push.
type Mirror struct {
	db     *sql.DB
	writer *kafka.Writer
	cfg    MirrorConfig
}

// NewMirror constructs a Mirror. Call Run in a goroutine; it blocks until
// ctx is cancelled.
func NewMirror(db *sql.DB, cfg MirrorConfig) *Mirror {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &Mirror{db: db, writer: writer, cfg: cfg}
}

// Run polls for events past fromCursor and republishes them until ctx is
// cancelled. A mirror outage or a failed publish only stalls the watermark;
// it never mutates sync_events (the table rejects UPDATE entirely).
func (m *Mirror) Run(ctx context.Context, fromCursor int64) error {
	log.Printf("[syncfeed.mirror] starting at cursor=%d topic=%s", fromCursor, m.cfg.Topic)
	defer func() {
		_ = m.writer.Close()
		log.Printf("[syncfeed.mirror] stopped")
	}()

	cursor := fromCursor
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		events, next, err := m.fetchSince(ctx, cursor)
		if err != nil {
			log.Printf("[syncfeed.mirror] fetch: %v", err)
			continue
		}
		if len(events) == 0 {
			continue
		}

		msgs := make([]kafka.Message, 0, len(events))
		for _, ev := range events {
			value, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[syncfeed.mirror] marshal event cursor=%d: %v", ev.Cursor, err)
				continue
			}
			msgs = append(msgs, kafka.Message{
				Key:   []byte(ev.AggregateType + ":" + ev.AggregateID),
				Value: value,
			})
		}
		if err := m.writer.WriteMessages(ctx, msgs...); err != nil {
			log.Printf("[syncfeed.mirror] produce batch ending cursor=%d: %v", next, err)
			continue
		}
		cursor = next
	}
}

func (m *Mirror) fetchSince(ctx context.Context, cursor int64) ([]Event, int64, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT cursor, owner_user_id, COALESCE(actor_user_id::text, ''), COALESCE(device_id::text, ''),
		       event_type, aggregate_type, COALESCE(aggregate_id::text, ''), payload, created_at
		FROM sync_events
		WHERE cursor > $1
		ORDER BY cursor ASC
		LIMIT $2
	`, cursor, m.cfg.BatchSize)
	if err != nil {
		return nil, cursor, err
	}
	defer rows.Close()

	next := cursor
	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Cursor, &ev.OwnerUserID, &ev.ActorUserID, &ev.DeviceID,
			&ev.EventType, &ev.AggregateType, &ev.AggregateID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, cursor, err
		}
		events = append(events, ev)
		if ev.Cursor > next {
			next = ev.Cursor
		}
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, err
	}
	return events, next, nil
}
