package syncfeed

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	DefaultPullLimit = 100
	MaxPullLimit     = 1000
)

// PullResult is the response to a pull-sync request.
type PullResult struct {
	Events     []Event `json:"events"`
	NextCursor int64   `json:"nextCursor"`
}

// Pull returns events owned by viewerUserID with cursor strictly greater
// than the request cursor, ascending, capped at limit.
func Pull(ctx context.Context, db *sql.DB, viewerUserID string, cursor int64, limit int) (*PullResult, error) {
	if limit <= 0 {
		limit = DefaultPullLimit
	}
	if limit > MaxPullLimit {
		limit = MaxPullLimit
	}
	if cursor < 0 {
		cursor = 0
	}

	rows, err := db.QueryContext(ctx, `
		SELECT cursor, owner_user_id, COALESCE(actor_user_id::text, ''), COALESCE(device_id::text, ''),
		       event_type, aggregate_type, COALESCE(aggregate_id::text, ''), payload, created_at
		FROM sync_events
		WHERE owner_user_id = $1 AND cursor > $2
		ORDER BY cursor ASC
		LIMIT $3
	`, viewerUserID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("pull sync events: %w", err)
	}
	defer rows.Close()

	result := &PullResult{Events: []Event{}, NextCursor: cursor}
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Cursor, &ev.OwnerUserID, &ev.ActorUserID, &ev.DeviceID,
			&ev.EventType, &ev.AggregateType, &ev.AggregateID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sync event: %w", err)
		}
		result.Events = append(result.Events, ev)
		if ev.Cursor > result.NextCursor {
			result.NextCursor = ev.Cursor
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync events: %w", err)
	}
	return result, nil
}
