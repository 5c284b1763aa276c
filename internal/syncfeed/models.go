// Package syncfeed implements the monotonic change feed: the operational,
// non-chained append-only log that drives pull-sync and the WebSocket push
// fan-out. It is deliberately a separate log from
// internal/audit — audit is forensic and hash-chained, the change feed is
// operational and merely ordered.
package syncfeed

import (
	"encoding/json"
	"time"
)

// Event mirrors one sync_events row.
type Event struct {
	Cursor        int64           `json:"cursor"`
	OwnerUserID   string          `json:"ownerUserId"`
	ActorUserID   string          `json:"actorUserId,omitempty"`
	DeviceID      string          `json:"deviceId,omitempty"`
	EventType     string          `json:"eventType"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// AppendInput is the set of fields AppendEvent needs to insert a row.
type AppendInput struct {
	OwnerUserID   string
	ActorUserID   string
	DeviceID      string
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       any
}
