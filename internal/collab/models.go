// Package collab implements the two admin-facing collaboration surfaces
// layered on top of a completed experiment: record comments (including
// deviation flags) and proposals to branch a new experiment from an
// existing one.
package collab

import "time"

type CommentKind string

const (
	CommentKindComment   CommentKind = "comment"
	CommentKindDeviation CommentKind = "deviation"
)

type Comment struct {
	ID           string      `json:"id"`
	ExperimentID string      `json:"experimentId"`
	AuthorUserID string      `json:"authorUserId"`
	Kind         CommentKind `json:"kind"`
	Body         string      `json:"body"`
	CreatedAt    time.Time   `json:"createdAt"`
}

type Proposal struct {
	ID                 string    `json:"id"`
	SourceExperimentID string    `json:"sourceExperimentId"`
	ProposerUserID     string    `json:"proposerUserId"`
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	CreatedAt          time.Time `json:"createdAt"`
}
