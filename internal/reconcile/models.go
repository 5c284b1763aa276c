// Package reconcile implements the periodic attachment-drift scan:
// completed attachments missing their backing object, stale initiated
// uploads, and orphan objects with no matching row.
package reconcile

import (
	"encoding/json"
	"time"
)

type FindingType string

const (
	FindingInitiatedStale              FindingType = "initiated_stale"
	FindingCompletedMissingChecksum    FindingType = "completed_missing_checksum"
	FindingCompletedMissingObject      FindingType = "completed_missing_object"
	FindingObjectIntegrityMismatch     FindingType = "completed_object_integrity_mismatch"
	FindingOrphanObject                FindingType = "orphan_object"
	FindingObjectProbeFailed           FindingType = "object_probe_failed"
	FindingObjectListingFailed         FindingType = "object_listing_failed"
)

type Run struct {
	ID                string          `json:"id"`
	ActorUserID       string          `json:"actorUserId"`
	StartedAt         time.Time       `json:"startedAt"`
	FinishedAt        *time.Time      `json:"finishedAt,omitempty"`
	StaleAfterSeconds int             `json:"staleAfterSeconds"`
	ScanLimit         int             `json:"scanLimit"`
	Counters          json.RawMessage `json:"counters"`
}

type Finding struct {
	ID           string          `json:"id"`
	RunID        string          `json:"runId"`
	FindingType  FindingType     `json:"findingType"`
	AttachmentID string          `json:"attachmentId,omitempty"`
	Details      json.RawMessage `json:"details"`
	CreatedAt    time.Time       `json:"createdAt"`
	ResolvedAt   *time.Time      `json:"resolvedAt,omitempty"`
}
