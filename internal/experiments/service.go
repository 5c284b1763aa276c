package experiments

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/audit"
	"github.com/mhendzel2/ELNOTE-sub001/internal/auth"
	"github.com/mhendzel2/ELNOTE-sub001/internal/syncfeed"
)

// Authorize implements the view rule shared by getEffectiveView and
// getHistory: the owner may always view their own experiment; an admin
// may view it only once it is completed.
func Authorize(exp Experiment, viewerUserID string, role auth.Role) error {
	if viewerUserID == exp.OwnerUserID {
		return nil
	}
	if role == auth.RoleAdmin && exp.Status == StatusCompleted {
		return nil
	}
	return apperr.Forbidden("viewer is not permitted to read experiment %s", exp.ID)
}

type Service struct {
	db  *sql.DB
	hub *syncfeed.Hub
}

func NewService(db *sql.DB, hub *syncfeed.Hub) *Service {
	return &Service{db: db, hub: hub}
}

// Create inserts a new experiment with its original entry in one
// transaction, appends an audit event, and publishes a sync event.
func (s *Service) Create(ctx context.Context, ownerUserID, title, body string) (*Experiment, *Entry, error) {
	if title == "" {
		return nil, nil, apperr.InvalidInput("title is required")
	}
	if body == "" {
		return nil, nil, apperr.InvalidInput("original entry body is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	exp := &Experiment{OwnerUserID: ownerUserID, Title: title, Status: StatusDraft}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO experiments (owner_user_id, title) VALUES ($1, $2)
		RETURNING id, created_at
	`, ownerUserID, title).Scan(&exp.ID, &exp.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert experiment: %w", err)
	}

	entry := &Entry{ExperimentID: exp.ID, AuthorUserID: ownerUserID, EntryType: EntryOriginal, Body: body}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO experiment_entries (experiment_id, author_user_id, entry_type, body)
		VALUES ($1, $2, 'original', $3)
		RETURNING id, created_at
	`, exp.ID, ownerUserID, body).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert original entry: %w", err)
	}

	if err := audit.Append(ctx, tx, ownerUserID, "experiment.create", "experiment", exp.ID, map[string]any{
		"title":   title,
		"entryId": entry.ID,
	}); err != nil {
		return nil, nil, fmt.Errorf("append audit: %w", err)
	}

	if _, err := syncfeed.AppendEvent(ctx, tx, syncfeed.AppendInput{
		OwnerUserID:   ownerUserID,
		ActorUserID:   ownerUserID,
		EventType:     "experiment.created",
		AggregateType: "experiment",
		AggregateID:   exp.ID,
		Payload:       map[string]any{"experiment": exp, "entry": entry},
	}); err != nil {
		return nil, nil, fmt.Errorf("append sync event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	if s.hub != nil {
		s.hub.Publish(ownerUserID)
	}
	return exp, entry, nil
}

// AddendumInput is the client's attempt to append to an experiment's
// history, anchored to the entry it believes is currently the tail.
type AddendumInput struct {
	ExperimentID      string
	AuthorUserID      string
	Body              string
	ClientBaseEntryID string
}

// AddAddendum appends a new entry if ClientBaseEntryID is empty or still
// matches the server's latest entry; otherwise it records a ConflictArtifact and
// returns apperr.Conflict without losing the caller's payload.
func (s *Service) AddAddendum(ctx context.Context, in AddendumInput) (*Entry, error) {
	if in.Body == "" {
		return nil, apperr.InvalidInput("addendum body is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var ownerUserID, status string
	if err := tx.QueryRowContext(ctx, `
		SELECT owner_user_id, status FROM experiments WHERE id = $1
	`, in.ExperimentID).Scan(&ownerUserID, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("experiment %s not found", in.ExperimentID)
		}
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	if in.AuthorUserID != ownerUserID {
		return nil, apperr.Forbidden("only the experiment owner may add an addendum")
	}
	if status == string(StatusCompleted) {
		return nil, apperr.Forbidden("experiment %s is completed and accepts no further entries", in.ExperimentID)
	}

	var latestEntryID string
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM experiment_entries
		WHERE experiment_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`, in.ExperimentID).Scan(&latestEntryID); err != nil {
		return nil, fmt.Errorf("lock latest entry: %w", err)
	}

	if in.ClientBaseEntryID != "" && latestEntryID != in.ClientBaseEntryID {
		artifact, cerr := s.recordConflict(ctx, tx, ownerUserID, in, latestEntryID)
		if cerr != nil {
			return nil, cerr
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit conflict: %w", err)
		}
		if s.hub != nil {
			s.hub.Publish(ownerUserID)
		}
		return nil, apperr.Conflict("addendum base %s is stale; server latest is %s", in.ClientBaseEntryID, latestEntryID).
			WithFields(map[string]any{"conflictArtifactId": artifact.ID, "serverLatestEntryId": latestEntryID})
	}

	entry := &Entry{
		ExperimentID:      in.ExperimentID,
		AuthorUserID:      in.AuthorUserID,
		EntryType:         EntryAddendum,
		SupersedesEntryID: latestEntryID,
		Body:              in.Body,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO experiment_entries (experiment_id, author_user_id, entry_type, supersedes_entry_id, body)
		VALUES ($1, $2, 'addendum', $3, $4)
		RETURNING id, created_at
	`, in.ExperimentID, in.AuthorUserID, latestEntryID, in.Body).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert addendum: %w", err)
	}

	if err := audit.Append(ctx, tx, in.AuthorUserID, "experiment.addendum", "experiment", in.ExperimentID, map[string]any{
		"entryId":           entry.ID,
		"supersedesEntryId": latestEntryID,
	}); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}

	if _, err := syncfeed.AppendEvent(ctx, tx, syncfeed.AppendInput{
		OwnerUserID:   ownerUserID,
		ActorUserID:   in.AuthorUserID,
		EventType:     "experiment.addendum",
		AggregateType: "experiment",
		AggregateID:   in.ExperimentID,
		Payload:       map[string]any{"entry": entry},
	}); err != nil {
		return nil, fmt.Errorf("append sync event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if s.hub != nil {
		s.hub.Publish(ownerUserID)
	}
	return entry, nil
}

func (s *Service) recordConflict(ctx context.Context, tx *sql.Tx, ownerUserID string, in AddendumInput, latestEntryID string) (*ConflictArtifact, error) {
	payload, err := json.Marshal(map[string]any{
		"attemptedBody": in.Body,
		"authorUserId":  in.AuthorUserID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal conflict payload: %w", err)
	}

	artifact := &ConflictArtifact{
		OwnerUserID:         ownerUserID,
		ExperimentID:        in.ExperimentID,
		ActionType:          "addendum",
		ClientBaseEntryID:   in.ClientBaseEntryID,
		ServerLatestEntryID: latestEntryID,
		Payload:             payload,
	}
	var baseID, latestID any
	if in.ClientBaseEntryID != "" {
		baseID = in.ClientBaseEntryID
	}
	if latestEntryID != "" {
		latestID = latestEntryID
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO conflict_artifacts (
			owner_user_id, experiment_id, action_type, client_base_entry_id, server_latest_entry_id, payload
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING id, created_at
	`, ownerUserID, in.ExperimentID, artifact.ActionType, baseID, latestID, string(payload)).Scan(&artifact.ID, &artifact.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conflict artifact: %w", err)
	}

	if err := audit.Append(ctx, tx, in.AuthorUserID, "experiment.addendum.conflict", "experiment", in.ExperimentID, map[string]any{
		"conflictArtifactId":  artifact.ID,
		"clientBaseEntryId":   in.ClientBaseEntryID,
		"serverLatestEntryId": latestEntryID,
	}); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}

	if _, err := syncfeed.AppendEvent(ctx, tx, syncfeed.AppendInput{
		OwnerUserID:   ownerUserID,
		ActorUserID:   in.AuthorUserID,
		EventType:     "experiment.addendum.conflict",
		AggregateType: "conflict_artifact",
		AggregateID:   artifact.ID,
		Payload:       artifact,
	}); err != nil {
		return nil, fmt.Errorf("append sync event: %w", err)
	}
	return artifact, nil
}

// MarkCompleted transitions an experiment to completed. Completion is
// terminal: the DB trigger on experiments rejects any later downgrade.
func (s *Service) MarkCompleted(ctx context.Context, experimentID, actorUserID string) (*Experiment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var currentOwner string
	if err := tx.QueryRowContext(ctx, `SELECT owner_user_id FROM experiments WHERE id = $1`, experimentID).Scan(&currentOwner); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("experiment %s not found", experimentID)
		}
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	if currentOwner != actorUserID {
		return nil, apperr.Forbidden("only the experiment owner may complete it")
	}

	exp := &Experiment{ID: experimentID}
	var completedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		UPDATE experiments SET status = 'completed', completed_at = now()
		WHERE id = $1 AND status = 'draft'
		RETURNING owner_user_id, title, status, created_at, completed_at
	`, experimentID).Scan(&exp.OwnerUserID, &exp.Title, &exp.Status, &exp.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Conflict("experiment %s is already completed or does not exist", experimentID)
	}
	if err != nil {
		return nil, fmt.Errorf("complete experiment: %w", err)
	}
	if completedAt.Valid {
		exp.CompletedAt = &completedAt.Time
	}
	exp.ID = experimentID

	if err := audit.Append(ctx, tx, actorUserID, "experiment.complete", "experiment", experimentID, nil); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}
	if _, err := syncfeed.AppendEvent(ctx, tx, syncfeed.AppendInput{
		OwnerUserID:   exp.OwnerUserID,
		ActorUserID:   actorUserID,
		EventType:     "experiment.completed",
		AggregateType: "experiment",
		AggregateID:   experimentID,
		Payload:       exp,
	}); err != nil {
		return nil, fmt.Errorf("append sync event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if s.hub != nil {
		s.hub.Publish(exp.OwnerUserID)
	}
	return exp, nil
}

// GetEffectiveView returns the experiment and its full entry history in
// creation order — the canonical view both the UI and signature subsystem
// hash over.
func (s *Service) GetEffectiveView(ctx context.Context, experimentID string) (*EffectiveView, error) {
	view := &EffectiveView{}
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, title, status, created_at, completed_at
		FROM experiments WHERE id = $1
	`, experimentID).Scan(&view.Experiment.ID, &view.Experiment.OwnerUserID, &view.Experiment.Title,
		&view.Experiment.Status, &view.Experiment.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("experiment %s not found", experimentID)
	}
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	if completedAt.Valid {
		view.Experiment.CompletedAt = &completedAt.Time
	}

	entries, err := s.GetHistory(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	view.Entries = entries
	if len(entries) > 0 {
		latest := entries[len(entries)-1]
		view.EffectiveBody = latest.Body
		view.EffectiveEntryID = latest.ID
	}
	return view, nil
}

// ListConflicts returns conflict artifacts owned by ownerUserID, newest
// first, capped at limit.
func (s *Service) ListConflicts(ctx context.Context, ownerUserID string, limit int) ([]ConflictArtifact, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_user_id, experiment_id, action_type,
		       COALESCE(client_base_entry_id::text, ''), COALESCE(server_latest_entry_id::text, ''),
		       payload, created_at
		FROM conflict_artifacts WHERE owner_user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, ownerUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("query conflict artifacts: %w", err)
	}
	defer rows.Close()

	out := []ConflictArtifact{}
	for rows.Next() {
		var c ConflictArtifact
		if err := rows.Scan(&c.ID, &c.OwnerUserID, &c.ExperimentID, &c.ActionType,
			&c.ClientBaseEntryID, &c.ServerLatestEntryID, &c.Payload, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conflict artifact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetHistory returns every entry for experimentID in creation order,
// oldest (the original) first.
func (s *Service) GetHistory(ctx context.Context, experimentID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, experiment_id, author_user_id, entry_type, COALESCE(supersedes_entry_id::text, ''), body, created_at
		FROM experiment_entries
		WHERE experiment_id = $1
		ORDER BY created_at ASC, id ASC
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ExperimentID, &e.AuthorUserID, &e.EntryType, &e.SupersedesEntryID, &e.Body, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}
