package attachments

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/audit"
	"github.com/mhendzel2/ELNOTE-sub001/internal/objectstore"
	"github.com/mhendzel2/ELNOTE-sub001/internal/syncfeed"
)

type Service struct {
	db         *sql.DB
	hub        *syncfeed.Hub
	signer     *objectstore.URLSigner
	bucket     string
	publicBase string
	uploadTTL  time.Duration
	downloadTTL time.Duration
}

func NewService(db *sql.DB, hub *syncfeed.Hub, signer *objectstore.URLSigner, bucket, publicBase string, uploadTTL, downloadTTL time.Duration) *Service {
	return &Service{db: db, hub: hub, signer: signer, bucket: bucket, publicBase: publicBase, uploadTTL: uploadTTL, downloadTTL: downloadTTL}
}

// InitiateResult pairs the created attachment row with the signed URL the
// client uploads bytes to.
type InitiateResult struct {
	Attachment Attachment           `json:"attachment"`
	Upload     objectstore.SignedURL `json:"upload"`
}

// Initiate records an attachment row in the "initiated" state and returns a
// signed upload URL. The object key is server-generated so clients cannot
// collide or overwrite each other's keys.
func (s *Service) Initiate(ctx context.Context, experimentID, uploaderUserID, mimeType string, sizeBytes int64) (*InitiateResult, error) {
	if sizeBytes <= 0 {
		return nil, apperr.InvalidInput("sizeBytes must be positive")
	}
	if mimeType == "" {
		return nil, apperr.InvalidInput("mimeType is required")
	}

	var ownerID string
	if err := s.db.QueryRowContext(ctx, `SELECT owner_user_id FROM experiments WHERE id = $1`, experimentID).Scan(&ownerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("experiment %s not found", experimentID)
		}
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	if ownerID != uploaderUserID {
		return nil, apperr.Forbidden("only the experiment owner may initiate an attachment upload")
	}

	objectKey := fmt.Sprintf("experiments/%s/%s", experimentID, uuid.NewString())

	att := &Attachment{
		ExperimentID:   experimentID,
		UploaderUserID: uploaderUserID,
		ObjectKey:      objectKey,
		SizeBytes:      sizeBytes,
		MimeType:       mimeType,
		Status:         StatusInitiated,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO attachments (experiment_id, uploader_user_id, object_key, size_bytes, mime_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, experimentID, uploaderUserID, objectKey, sizeBytes, mimeType).Scan(&att.ID, &att.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert attachment: %w", err)
	}

	if err := audit.Append(ctx, s.db, uploaderUserID, "attachment.initiate", "attachment", att.ID, map[string]any{
		"experimentId": experimentID,
		"objectKey":    objectKey,
		"sizeBytes":    sizeBytes,
		"mimeType":     mimeType,
	}); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}

	expiresAt := time.Now().UTC().Add(s.uploadTTL)
	sig := s.signer.Sign(objectstore.OpUpload, s.bucket, objectKey, expiresAt)
	signedURL, err := signedObjectURL(s.publicBase, s.bucket, objectKey, objectstore.OpUpload, expiresAt, sig)
	if err != nil {
		return nil, err
	}

	return &InitiateResult{Attachment: *att, Upload: objectstore.SignedURL{URL: signedURL, ExpiresAt: expiresAt}}, nil
}

// Complete transitions an attachment from initiated to completed once the
// client reports the checksum of the bytes it uploaded. The row lock
// prevents a concurrent double-complete from racing past the status check.
func (s *Service) Complete(ctx context.Context, attachmentID, actorUserID, checksum string, sizeBytes int64) (*Attachment, error) {
	if checksum == "" {
		return nil, apperr.InvalidInput("checksum is required to complete an attachment")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status, experimentID string
	var initiatedSize int64
	if err := tx.QueryRowContext(ctx, `
		SELECT a.status, a.experiment_id, a.size_bytes FROM attachments a WHERE a.id = $1 FOR UPDATE
	`, attachmentID).Scan(&status, &experimentID, &initiatedSize); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("attachment %s not found", attachmentID)
		}
		return nil, fmt.Errorf("lock attachment: %w", err)
	}

	var ownerID string
	if err := tx.QueryRowContext(ctx, `SELECT owner_user_id FROM experiments WHERE id = $1`, experimentID).Scan(&ownerID); err != nil {
		return nil, fmt.Errorf("load experiment owner: %w", err)
	}
	if ownerID != actorUserID {
		return nil, apperr.Forbidden("only the experiment owner may complete this attachment")
	}
	if status != string(StatusInitiated) {
		return nil, apperr.Conflict("attachment %s is not awaiting completion", attachmentID)
	}
	if sizeBytes != initiatedSize {
		return nil, apperr.InvalidInput("completed size %d does not match initiated size %d", sizeBytes, initiatedSize)
	}

	att := &Attachment{ID: attachmentID, ExperimentID: experimentID, Status: StatusCompleted, Checksum: checksum}
	var completedAt time.Time
	if err := tx.QueryRowContext(ctx, `
		UPDATE attachments SET status = 'completed', checksum = $1, completed_at = now()
		WHERE id = $2
		RETURNING uploader_user_id, object_key, size_bytes, mime_type, created_at, completed_at
	`, checksum, attachmentID).Scan(&att.UploaderUserID, &att.ObjectKey, &att.SizeBytes, &att.MimeType, &att.CreatedAt, &completedAt); err != nil {
		return nil, fmt.Errorf("complete attachment: %w", err)
	}
	att.CompletedAt = &completedAt

	if err := audit.Append(ctx, tx, actorUserID, "attachment.complete", "attachment", attachmentID, map[string]any{
		"checksum": checksum,
	}); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}

	var ownerUserID string
	if err := tx.QueryRowContext(ctx, `SELECT owner_user_id FROM experiments WHERE id = $1`, experimentID).Scan(&ownerUserID); err != nil {
		return nil, fmt.Errorf("load experiment owner: %w", err)
	}
	if _, err := syncfeed.AppendEvent(ctx, tx, syncfeed.AppendInput{
		OwnerUserID:   ownerUserID,
		ActorUserID:   actorUserID,
		EventType:     "attachment.completed",
		AggregateType: "attachment",
		AggregateID:   attachmentID,
		Payload:       att,
	}); err != nil {
		return nil, fmt.Errorf("append sync event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if s.hub != nil {
		s.hub.Publish(ownerUserID)
	}
	return att, nil
}

// Download returns a signed download URL for a completed attachment.
// Access is the experiment owner, or an admin once the experiment is
// completed.
func (s *Service) Download(ctx context.Context, attachmentID, viewerUserID string, viewerIsAdmin bool) (*objectstore.SignedURL, error) {
	var objectKey, status, experimentOwnerID, experimentStatus string
	if err := s.db.QueryRowContext(ctx, `
		SELECT a.object_key, a.status, e.owner_user_id, e.status
		FROM attachments a JOIN experiments e ON e.id = a.experiment_id
		WHERE a.id = $1
	`, attachmentID).Scan(&objectKey, &status, &experimentOwnerID, &experimentStatus); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("attachment %s not found", attachmentID)
		}
		return nil, fmt.Errorf("load attachment: %w", err)
	}
	if err := checkReadAccess(viewerUserID, viewerIsAdmin, experimentOwnerID, experimentStatus); err != nil {
		return nil, err
	}
	if status != string(StatusCompleted) {
		return nil, apperr.Conflict("attachment %s upload has not completed yet", attachmentID)
	}

	expiresAt := time.Now().UTC().Add(s.downloadTTL)
	sig := s.signer.Sign(objectstore.OpDownload, s.bucket, objectKey, expiresAt)
	signedURL, err := signedObjectURL(s.publicBase, s.bucket, objectKey, objectstore.OpDownload, expiresAt, sig)
	if err != nil {
		return nil, err
	}
	return &objectstore.SignedURL{URL: signedURL, ExpiresAt: expiresAt}, nil
}

func checkReadAccess(viewerUserID string, viewerIsAdmin bool, experimentOwnerID, experimentStatus string) error {
	if viewerUserID == experimentOwnerID {
		return nil
	}
	if viewerIsAdmin && experimentStatus == "completed" {
		return nil
	}
	return apperr.Forbidden("viewer is not permitted to access this experiment's attachments")
}

// ListByExperiment returns every attachment row for experimentID, newest
// first, under the same access rule as Download.
func (s *Service) ListByExperiment(ctx context.Context, experimentID, viewerUserID string, viewerIsAdmin bool) ([]Attachment, error) {
	var experimentOwnerID, experimentStatus string
	if err := s.db.QueryRowContext(ctx, `SELECT owner_user_id, status FROM experiments WHERE id = $1`, experimentID).
		Scan(&experimentOwnerID, &experimentStatus); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("experiment %s not found", experimentID)
		}
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	if err := checkReadAccess(viewerUserID, viewerIsAdmin, experimentOwnerID, experimentStatus); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, experiment_id, uploader_user_id, object_key, size_bytes, mime_type,
		       status, COALESCE(checksum, ''), created_at, completed_at
		FROM attachments WHERE experiment_id = $1 ORDER BY created_at DESC
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	out := []Attachment{}
	for rows.Next() {
		var a Attachment
		var completedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.ExperimentID, &a.UploaderUserID, &a.ObjectKey, &a.SizeBytes, &a.MimeType,
			&a.Status, &a.Checksum, &a.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		if completedAt.Valid {
			a.CompletedAt = &completedAt.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// signedObjectURL builds the client-facing signed URL:
// <publicBase>/<bucket>/<objectKey>?op={put|get}&exp=<unix>&sig=<hex>.
// Each path segment of objectKey is percent-escaped and ".." segments are
// rejected outright, even though object keys are always server-generated
// UUIDs and never come from client input.
func signedObjectURL(publicBase, bucket, objectKey, op string, expiresAt time.Time, sig string) (string, error) {
	segments := strings.Split(objectKey, "/")
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		if seg == ".." || seg == "." || seg == "" {
			return "", apperr.InvalidInput("invalid object key %q", objectKey)
		}
		escaped[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/%s/%s?op=%s&exp=%d&sig=%s",
		publicBase, url.PathEscape(bucket), strings.Join(escaped, "/"), op, expiresAt.Unix(), sig), nil
}
