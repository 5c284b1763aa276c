package collab

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/audit"
	"github.com/mhendzel2/ELNOTE-sub001/internal/auth"
	"github.com/mhendzel2/ELNOTE-sub001/internal/syncfeed"
)

type Service struct {
	db  *sql.DB
	hub *syncfeed.Hub
}

func NewService(db *sql.DB, hub *syncfeed.Hub) *Service {
	return &Service{db: db, hub: hub}
}

// AddComment records a comment or deviation flag against an experiment.
// Collaboration activity is restricted to completed experiments (an
// in-progress draft is edited by addenda, not commented on) and to admins,
// who are the reviewers of record.
func (s *Service) AddComment(ctx context.Context, actor *auth.Principal, experimentID string, kind CommentKind, body string) (*Comment, error) {
	if err := auth.RequireRole(actor, auth.RoleAdmin); err != nil {
		return nil, err
	}
	if body == "" {
		return nil, apperr.InvalidInput("comment body is required")
	}
	if kind != CommentKindComment && kind != CommentKindDeviation {
		return nil, apperr.InvalidInput("unknown comment kind %q", kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ownerUserID, err := s.requireCompleted(ctx, tx, experimentID)
	if err != nil {
		return nil, err
	}

	comment := &Comment{ExperimentID: experimentID, AuthorUserID: actor.UserID, Kind: kind, Body: body}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO record_comments (experiment_id, author_user_id, kind, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, experimentID, actor.UserID, string(kind), body).Scan(&comment.ID, &comment.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert comment: %w", err)
	}

	eventType := "experiment.comment"
	if kind == CommentKindDeviation {
		eventType = "experiment.deviation"
	}
	if err := audit.Append(ctx, tx, actor.UserID, eventType, "experiment", experimentID, map[string]any{
		"commentId": comment.ID,
		"kind":      kind,
	}); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}
	if _, err := syncfeed.AppendEvent(ctx, tx, syncfeed.AppendInput{
		OwnerUserID:   ownerUserID,
		ActorUserID:   actor.UserID,
		EventType:     eventType,
		AggregateType: "experiment",
		AggregateID:   experimentID,
		Payload:       comment,
	}); err != nil {
		return nil, fmt.Errorf("append sync event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if s.hub != nil {
		s.hub.Publish(ownerUserID)
	}
	return comment, nil
}

// ListComments returns every comment/deviation for experimentID, oldest first.
func (s *Service) ListComments(ctx context.Context, experimentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, experiment_id, author_user_id, kind, body, created_at
		FROM record_comments WHERE experiment_id = $1 ORDER BY created_at ASC
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.ExperimentID, &c.AuthorUserID, &c.Kind, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// CreateProposal records a proposal to branch a new experiment from a
// completed one. Admins triage these into new experiments out of band;
// this package only records the proposal itself.
func (s *Service) CreateProposal(ctx context.Context, actor *auth.Principal, sourceExperimentID, title, body string) (*Proposal, error) {
	if err := auth.RequireRole(actor, auth.RoleAdmin); err != nil {
		return nil, err
	}
	if title == "" || body == "" {
		return nil, apperr.InvalidInput("proposal title and body are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ownerUserID, err := s.requireCompleted(ctx, tx, sourceExperimentID)
	if err != nil {
		return nil, err
	}

	proposal := &Proposal{SourceExperimentID: sourceExperimentID, ProposerUserID: actor.UserID, Title: title, Body: body}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO experiment_proposals (source_experiment_id, proposer_user_id, title, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, sourceExperimentID, actor.UserID, title, body).Scan(&proposal.ID, &proposal.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert proposal: %w", err)
	}

	if err := audit.Append(ctx, tx, actor.UserID, "experiment.proposal.create", "experiment", sourceExperimentID, map[string]any{
		"proposalId": proposal.ID,
		"title":      title,
	}); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}
	if _, err := syncfeed.AppendEvent(ctx, tx, syncfeed.AppendInput{
		OwnerUserID:   ownerUserID,
		ActorUserID:   actor.UserID,
		EventType:     "experiment.proposal.created",
		AggregateType: "experiment",
		AggregateID:   sourceExperimentID,
		Payload:       proposal,
	}); err != nil {
		return nil, fmt.Errorf("append sync event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if s.hub != nil {
		s.hub.Publish(ownerUserID)
	}
	return proposal, nil
}

// ListProposals returns every proposal sourced from experimentID, oldest first.
func (s *Service) ListProposals(ctx context.Context, experimentID string) ([]Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_experiment_id, proposer_user_id, title, body, created_at
		FROM experiment_proposals WHERE source_experiment_id = $1 ORDER BY created_at ASC
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	proposals := []Proposal{}
	for rows.Next() {
		var p Proposal
		if err := rows.Scan(&p.ID, &p.SourceExperimentID, &p.ProposerUserID, &p.Title, &p.Body, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func (s *Service) requireCompleted(ctx context.Context, tx *sql.Tx, experimentID string) (ownerUserID string, err error) {
	var status string
	err = tx.QueryRowContext(ctx, `SELECT owner_user_id, status FROM experiments WHERE id = $1`, experimentID).
		Scan(&ownerUserID, &status)
	if err == sql.ErrNoRows {
		return "", apperr.NotFound("experiment %s not found", experimentID)
	}
	if err != nil {
		return "", fmt.Errorf("load experiment: %w", err)
	}
	if status != "completed" {
		return "", apperr.Forbidden("experiment %s must be completed before collaboration activity is recorded", experimentID)
	}
	return ownerUserID, nil
}
