package syncfeed

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mhendzel2/ELNOTE-sub001/internal/canonical"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AppendEvent inserts a sync_events row and returns the generated cursor.
// It participates in the caller's transaction so the cursor is only
// observable once the caller commits.
func AppendEvent(ctx context.Context, exec Execer, in AppendInput) (int64, error) {
	payload, err := canonical.Marshal(in.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal sync event payload: %w", err)
	}

	var cursor int64
	err = exec.QueryRowContext(ctx, `
		INSERT INTO sync_events (
			owner_user_id, actor_user_id, device_id, event_type,
			aggregate_type, aggregate_id, payload
		) VALUES (
			$1, NULLIF($2, '')::uuid, NULLIF($3, '')::uuid, $4, $5, NULLIF($6, '')::uuid, $7::jsonb
		) RETURNING cursor
	`, in.OwnerUserID, in.ActorUserID, in.DeviceID, in.EventType, in.AggregateType, in.AggregateID, string(payload)).Scan(&cursor)
	if err != nil {
		return 0, fmt.Errorf("insert sync event: %w", err)
	}
	return cursor, nil
}
