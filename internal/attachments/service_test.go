package attachments

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/objectstore"
)

func TestCheckReadAccessOwnerAllowed(t *testing.T) {
	if err := checkReadAccess("user-1", false, "user-1", "draft"); err != nil {
		t.Fatalf("checkReadAccess: %v", err)
	}
}

func TestCheckReadAccessAdminOnlyWhenCompleted(t *testing.T) {
	if err := checkReadAccess("admin-1", true, "user-1", "draft"); err == nil {
		t.Fatalf("expected Forbidden for admin reading a draft experiment's attachments")
	}
	if err := checkReadAccess("admin-1", true, "user-1", "completed"); err != nil {
		t.Fatalf("checkReadAccess: %v", err)
	}
}

func TestCheckReadAccessStrangerDenied(t *testing.T) {
	err := checkReadAccess("stranger-1", false, "user-1", "completed")
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestInitiateRejectsNonPositiveSize(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	signer := objectstore.NewURLSigner("secret")
	svc := NewService(db, nil, signer, "bucket", "https://store.example", time.Minute, time.Minute)

	_, err = svc.Initiate(context.Background(), "exp-1", "user-1", "image/png", 0)
	if apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestInitiateRejectsMissingMimeType(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	signer := objectstore.NewURLSigner("secret")
	svc := NewService(db, nil, signer, "bucket", "https://store.example", time.Minute, time.Minute)

	_, err = svc.Initiate(context.Background(), "exp-1", "user-1", "", 10)
	if apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestInitiateRejectsNonOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT owner_user_id FROM experiments`).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id"}).AddRow("owner-1"))

	signer := objectstore.NewURLSigner("secret")
	svc := NewService(db, nil, signer, "bucket", "https://store.example", time.Minute, time.Minute)

	_, err = svc.Initiate(context.Background(), "exp-1", "stranger-1", "image/png", 10)
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestDownloadRejectsUncompletedUpload(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT a.object_key, a.status, e.owner_user_id, e.status`).
		WithArgs("att-1").
		WillReturnRows(sqlmock.NewRows([]string{"object_key", "status", "owner_user_id", "status"}).
			AddRow("experiments/exp-1/key", "initiated", "user-1", "draft"))

	signer := objectstore.NewURLSigner("secret")
	svc := NewService(db, nil, signer, "bucket", "https://store.example", time.Minute, time.Minute)

	_, err = svc.Download(context.Background(), "att-1", "user-1", false)
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestDownloadRejectsUnauthorizedViewer(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT a.object_key, a.status, e.owner_user_id, e.status`).
		WithArgs("att-1").
		WillReturnRows(sqlmock.NewRows([]string{"object_key", "status", "owner_user_id", "status"}).
			AddRow("experiments/exp-1/key", "completed", "owner-1", "completed"))

	signer := objectstore.NewURLSigner("secret")
	svc := NewService(db, nil, signer, "bucket", "https://store.example", time.Minute, time.Minute)

	_, err = svc.Download(context.Background(), "att-1", "stranger-1", false)
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestDownloadSucceedsForOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT a.object_key, a.status, e.owner_user_id, e.status`).
		WithArgs("att-1").
		WillReturnRows(sqlmock.NewRows([]string{"object_key", "status", "owner_user_id", "status"}).
			AddRow("experiments/exp-1/key", "completed", "owner-1", "completed"))

	signer := objectstore.NewURLSigner("secret")
	svc := NewService(db, nil, signer, "bucket", "https://store.example", time.Minute, time.Minute)

	url, err := svc.Download(context.Background(), "att-1", "owner-1", false)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if url.URL == "" {
		t.Fatalf("expected non-empty signed URL")
	}
}

func TestListByExperimentPropagatesQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT owner_user_id, status FROM experiments`).
		WithArgs("exp-missing").
		WillReturnError(fmt.Errorf("connection reset"))

	signer := objectstore.NewURLSigner("secret")
	svc := NewService(db, nil, signer, "bucket", "https://store.example", time.Minute, time.Minute)

	_, err = svc.ListByExperiment(context.Background(), "exp-missing", "user-1", false)
	if err == nil {
		t.Fatalf("expected error for query failure")
	}
}
