package signatures

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/audit"
	"github.com/mhendzel2/ELNOTE-sub001/internal/experiments"
	"github.com/mhendzel2/ELNOTE-sub001/internal/syncfeed"
)

// Reauthenticator verifies a presented password against the stored
// credential for userID, independent of the caller's bearer token.
type Reauthenticator interface {
	VerifyUserPassword(ctx context.Context, userID, password string) error
}

type Service struct {
	db       *sql.DB
	hub      *syncfeed.Hub
	expts    *experiments.Service
	reauth   Reauthenticator
}

func NewService(db *sql.DB, hub *syncfeed.Hub, expts *experiments.Service, reauth Reauthenticator) *Service {
	return &Service{db: db, hub: hub, expts: expts, reauth: reauth}
}

// Sign reauthenticates the signer by password, hashes the experiment's
// current effective body, and records a signature. Per the role pairing
// rule: an author signature may only be entered by the experiment's
// owner; a witness signature may not.
func (s *Service) Sign(ctx context.Context, experimentID, signerUserID, password string, sigType Type) (*Signature, error) {
	if sigType != TypeAuthor && sigType != TypeWitness {
		return nil, apperr.InvalidInput("unknown signature type %q", sigType)
	}
	if err := s.reauth.VerifyUserPassword(ctx, signerUserID, password); err != nil {
		return nil, err
	}

	view, err := s.expts.GetEffectiveView(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if view.Experiment.Status != experiments.StatusCompleted {
		return nil, apperr.Forbidden("experiment %s must be completed before it can be signed", experimentID)
	}

	isOwner := signerUserID == view.Experiment.OwnerUserID
	if sigType == TypeAuthor && !isOwner {
		return nil, apperr.Forbidden("an author signature must be entered by the experiment owner")
	}
	if sigType == TypeWitness && isOwner {
		return nil, apperr.Forbidden("a witness signature must be entered by someone other than the experiment owner")
	}

	hash := sha256.Sum256([]byte(effectiveBody(view)))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sig := &Signature{ExperimentID: experimentID, SignerUserID: signerUserID, SignatureType: sigType, ContentHash: hash[:]}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO signatures (experiment_id, signer_user_id, signature_type, content_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, signed_at
	`, experimentID, signerUserID, string(sigType), hash[:]).Scan(&sig.ID, &sig.SignedAt)
	if err != nil {
		return nil, fmt.Errorf("insert signature: %w", err)
	}

	if err := audit.Append(ctx, tx, signerUserID, "experiment.sign", "experiment", experimentID, map[string]any{
		"signatureId":   sig.ID,
		"signatureType": sigType,
		"contentHash":   fmt.Sprintf("%x", hash),
	}); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}
	if _, err := syncfeed.AppendEvent(ctx, tx, syncfeed.AppendInput{
		OwnerUserID:   view.Experiment.OwnerUserID,
		ActorUserID:   signerUserID,
		EventType:     "experiment.signed",
		AggregateType: "experiment",
		AggregateID:   experimentID,
		Payload:       sig,
	}); err != nil {
		return nil, fmt.Errorf("append sync event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if s.hub != nil {
		s.hub.Publish(view.Experiment.OwnerUserID)
	}
	return sig, nil
}

// effectiveBody is the body of the most recent entry: the latest addendum
// if one exists, otherwise the original entry.
func effectiveBody(view *experiments.EffectiveView) string {
	return view.EffectiveBody
}

// Verify recomputes the current effective-body hash and compares it
// against every recorded signature, reporting any that no longer match —
// which would mean the signed history was altered after signing
// (impossible under the immutability triggers, but checked defensively
// for forensic export).
func (s *Service) Verify(ctx context.Context, experimentID string) (*VerifyResult, error) {
	view, err := s.expts.GetEffectiveView(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	current := sha256.Sum256([]byte(effectiveBody(view)))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, signer_user_id, signature_type, content_hash, signed_at
		FROM signatures WHERE experiment_id = $1 ORDER BY signed_at ASC
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("load signatures: %w", err)
	}
	defer rows.Close()

	checks := []SignatureCheck{}
	integrityValid := true
	for rows.Next() {
		var sig Signature
		sig.ExperimentID = experimentID
		if err := rows.Scan(&sig.ID, &sig.SignerUserID, &sig.SignatureType, &sig.ContentHash, &sig.SignedAt); err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		matches := bytesEqual(sig.ContentHash, current[:])
		integrityValid = integrityValid && matches
		checks = append(checks, SignatureCheck{
			Signature: sig,
			Matches:   matches,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &VerifyResult{
		Signatures:         checks,
		CurrentContentHash: fmt.Sprintf("%x", current),
		IntegrityValid:     integrityValid,
	}, nil
}

// SignatureCheck reports whether a recorded signature still matches the
// experiment's current effective-view hash.
type SignatureCheck struct {
	Signature Signature `json:"signature"`
	Matches   bool      `json:"matches"`
}

// VerifyResult is the full response for a signature-verification request:
// every recorded signature's match status, the experiment's current
// effective-body hash, and whether every signature still agrees with it.
type VerifyResult struct {
	Signatures         []SignatureCheck `json:"signatures"`
	CurrentContentHash string           `json:"currentContentHash"`
	IntegrityValid     bool             `json:"integrityValid"`
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
