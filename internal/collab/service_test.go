package collab

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/auth"
)

func TestAddCommentRejectsNonAdmin(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)
	actor := &auth.Principal{UserID: "viewer-1", Role: auth.RoleViewer}

	_, err = svc.AddComment(context.Background(), actor, "exp-1", CommentKindComment, "looks fine")
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestAddCommentRejectsEmptyBody(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)
	actor := &auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}

	_, err = svc.AddComment(context.Background(), actor, "exp-1", CommentKindComment, "")
	if apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestAddCommentRejectsUnknownKind(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)
	actor := &auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}

	_, err = svc.AddComment(context.Background(), actor, "exp-1", CommentKind("bogus"), "text")
	if apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestAddCommentRejectsNotYetCompleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)
	actor := &auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner_user_id, status FROM experiments`).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id", "status"}).AddRow("user-1", "draft"))

	_, err = svc.AddComment(context.Background(), actor, "exp-1", CommentKindDeviation, "missed a step")
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestAddCommentSucceedsOnCompletedExperiment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)
	actor := &auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner_user_id, status FROM experiments`).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id", "status"}).AddRow("user-1", "completed"))
	mock.ExpectQuery(`INSERT INTO record_comments`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("comment-1", time.Now()))
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT event_hash FROM audit_log`).
		WillReturnRows(sqlmock.NewRows([]string{"event_hash"}))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`INSERT INTO sync_events`).
		WillReturnRows(sqlmock.NewRows([]string{"cursor"}).AddRow(int64(1)))
	mock.ExpectCommit()

	comment, err := svc.AddComment(context.Background(), actor, "exp-1", CommentKindComment, "looks fine")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if comment.ID != "comment-1" {
		t.Fatalf("unexpected comment: %+v", comment)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListCommentsReturnsOldestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)
	now := time.Now()
	mock.ExpectQuery(`SELECT id, experiment_id, author_user_id, kind, body, created_at`).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "experiment_id", "author_user_id", "kind", "body", "created_at"}).
			AddRow("c-1", "exp-1", "admin-1", "comment", "first", now).
			AddRow("c-2", "exp-1", "admin-1", "deviation", "second", now.Add(time.Minute)))

	comments, err := svc.ListComments(context.Background(), "exp-1")
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 2 || comments[1].Kind != CommentKindDeviation {
		t.Fatalf("unexpected comments: %+v", comments)
	}
}

func TestCreateProposalRejectsMissingTitleOrBody(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)
	actor := &auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}

	_, err = svc.CreateProposal(context.Background(), actor, "exp-1", "", "body")
	if apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestCreateProposalNotFoundSourceExperiment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)
	actor := &auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner_user_id, status FROM experiments`).
		WithArgs("exp-missing").
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id", "status"}))

	_, err = svc.CreateProposal(context.Background(), actor, "exp-missing", "title", "body")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestListProposalsReturnsOldestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)
	now := time.Now()
	mock.ExpectQuery(`SELECT id, source_experiment_id, proposer_user_id, title, body, created_at`).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_experiment_id", "proposer_user_id", "title", "body", "created_at"}).
			AddRow("p-1", "exp-1", "admin-1", "title-1", "body-1", now))

	proposals, err := svc.ListProposals(context.Background(), "exp-1")
	if err != nil {
		t.Fatalf("ListProposals: %v", err)
	}
	if len(proposals) != 1 || proposals[0].Title != "title-1" {
		t.Fatalf("unexpected proposals: %+v", proposals)
	}
}
