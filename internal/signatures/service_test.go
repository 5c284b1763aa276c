package signatures

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/experiments"
)

type fakeReauth struct {
	err error
}

func (f *fakeReauth) VerifyUserPassword(ctx context.Context, userID, password string) error {
	return f.err
}

func expectEffectiveView(mock sqlmock.Sqlmock, experimentID, ownerUserID, status string, entryBody string) {
	var completedAt any
	if status == string(experiments.StatusCompleted) {
		completedAt = time.Now()
	}
	mock.ExpectQuery(`SELECT id, owner_user_id, title, status, created_at, completed_at`).
		WithArgs(experimentID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_user_id", "title", "status", "created_at", "completed_at",
		}).AddRow(experimentID, ownerUserID, "title", status, time.Now(), completedAt))
	mock.ExpectQuery(`SELECT id, experiment_id, author_user_id, entry_type`).
		WithArgs(experimentID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "experiment_id", "author_user_id", "entry_type", "supersedes_entry_id", "body", "created_at",
		}).AddRow("entry-1", experimentID, ownerUserID, "original", "", entryBody, time.Now()))
}

func TestSignRejectsUnknownType(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil, experiments.NewService(db, nil), &fakeReauth{})
	_, err = svc.Sign(context.Background(), "exp-1", "user-1", "pw", Type("bogus"))
	if apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestSignRejectsBadPassword(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil, experiments.NewService(db, nil), &fakeReauth{err: apperr.Unauthorized("bad password")})
	_, err = svc.Sign(context.Background(), "exp-1", "user-1", "wrong", TypeAuthor)
	if apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestSignRejectsNotCompleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectEffectiveView(mock, "exp-1", "user-1", string(experiments.StatusDraft), "body")

	svc := NewService(db, nil, experiments.NewService(db, nil), &fakeReauth{})
	_, err = svc.Sign(context.Background(), "exp-1", "user-1", "pw", TypeAuthor)
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestSignRejectsAuthorSignatureFromNonOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectEffectiveView(mock, "exp-1", "owner-1", string(experiments.StatusCompleted), "body")

	svc := NewService(db, nil, experiments.NewService(db, nil), &fakeReauth{})
	_, err = svc.Sign(context.Background(), "exp-1", "witness-1", "pw", TypeAuthor)
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestSignRejectsWitnessSignatureFromOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectEffectiveView(mock, "exp-1", "owner-1", string(experiments.StatusCompleted), "body")

	svc := NewService(db, nil, experiments.NewService(db, nil), &fakeReauth{})
	_, err = svc.Sign(context.Background(), "exp-1", "owner-1", "pw", TypeWitness)
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestSignSucceedsForAuthorByOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectEffectiveView(mock, "exp-1", "owner-1", string(experiments.StatusCompleted), "final body")

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO signatures`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "signed_at"}).AddRow("sig-1", time.Now()))
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT event_hash FROM audit_log`).
		WillReturnRows(sqlmock.NewRows([]string{"event_hash"}))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`INSERT INTO sync_events`).
		WillReturnRows(sqlmock.NewRows([]string{"cursor"}).AddRow(int64(1)))
	mock.ExpectCommit()

	svc := NewService(db, nil, experiments.NewService(db, nil), &fakeReauth{})
	sig, err := svc.Sign(context.Background(), "exp-1", "owner-1", "pw", TypeAuthor)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	want := sha256.Sum256([]byte("final body"))
	if string(sig.ContentHash) != string(want[:]) {
		t.Fatalf("ContentHash mismatch")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestVerifyFlagsMismatchedSignature(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectEffectiveView(mock, "exp-1", "owner-1", string(experiments.StatusCompleted), "current body")

	staleHash := sha256.Sum256([]byte("old body"))
	mock.ExpectQuery(`SELECT id, signer_user_id, signature_type, content_hash, signed_at`).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "signer_user_id", "signature_type", "content_hash", "signed_at"}).
			AddRow("sig-1", "owner-1", string(TypeAuthor), staleHash[:], time.Now()))

	svc := NewService(db, nil, experiments.NewService(db, nil), &fakeReauth{})
	result, err := svc.Verify(context.Background(), "exp-1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(result.Signatures) != 1 || result.Signatures[0].Matches {
		t.Fatalf("expected one mismatched check, got %+v", result.Signatures)
	}
	if result.IntegrityValid {
		t.Fatalf("expected integrityValid=false when a signature mismatches")
	}
	if result.CurrentContentHash == "" {
		t.Fatalf("expected currentContentHash to be populated")
	}
}
