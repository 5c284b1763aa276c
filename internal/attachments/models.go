// Package attachments implements the attachment broker: clients exchange
// signed URLs directly with object storage, and the application only
// records metadata plus a two-phase initiated/completed lifecycle.
package attachments

import "time"

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusCompleted Status = "completed"
)

type Attachment struct {
	ID             string     `json:"id"`
	ExperimentID   string     `json:"experimentId"`
	UploaderUserID string     `json:"uploaderUserId"`
	ObjectKey      string     `json:"objectKey"`
	SizeBytes      int64      `json:"sizeBytes"`
	MimeType       string     `json:"mimeType"`
	Status         Status     `json:"status"`
	Checksum       string     `json:"checksum,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}
