package experiments

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/auth"
)

func TestAuthorizeOwnerAlwaysAllowed(t *testing.T) {
	exp := Experiment{ID: "exp-1", OwnerUserID: "user-1", Status: StatusDraft}
	if err := Authorize(exp, "user-1", auth.RoleViewer); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
}

func TestAuthorizeAdminAllowedOnlyWhenCompleted(t *testing.T) {
	exp := Experiment{ID: "exp-1", OwnerUserID: "user-1", Status: StatusDraft}
	if err := Authorize(exp, "admin-1", auth.RoleAdmin); err == nil {
		t.Fatalf("expected Forbidden for admin reading a draft experiment")
	}

	exp.Status = StatusCompleted
	if err := Authorize(exp, "admin-1", auth.RoleAdmin); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
}

func TestAuthorizeNonOwnerNonAdminDenied(t *testing.T) {
	exp := Experiment{ID: "exp-1", OwnerUserID: "user-1", Status: StatusCompleted}
	err := Authorize(exp, "user-2", auth.RoleViewer)
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("Authorize kind = %v, want Forbidden", apperr.KindOf(err))
	}
}

func TestAddAddendumRecordsConflictOnStaleBase(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner_user_id, status FROM experiments`).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id", "status"}).AddRow("user-1", "draft"))
	mock.ExpectQuery(`SELECT id FROM experiment_entries`).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("entry-latest"))
	mock.ExpectQuery(`INSERT INTO conflict_artifacts`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("conflict-1", time.Now()))
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT event_hash FROM audit_log`).
		WillReturnRows(sqlmock.NewRows([]string{"event_hash"}))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`INSERT INTO sync_events`).
		WillReturnRows(sqlmock.NewRows([]string{"cursor"}).AddRow(int64(1)))
	mock.ExpectCommit()

	_, err = svc.AddAddendum(context.Background(), AddendumInput{
		ExperimentID:      "exp-1",
		AuthorUserID:      "user-1",
		Body:              "new text",
		ClientBaseEntryID: "entry-stale",
	})
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected Conflict error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAddAddendumWithEmptyBaseForceAppendsWithoutConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner_user_id, status FROM experiments`).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id", "status"}).AddRow("user-1", "draft"))
	mock.ExpectQuery(`SELECT id FROM experiment_entries`).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("entry-latest"))
	mock.ExpectQuery(`INSERT INTO experiment_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("entry-new", time.Now()))
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT event_hash FROM audit_log`).
		WillReturnRows(sqlmock.NewRows([]string{"event_hash"}))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`INSERT INTO sync_events`).
		WillReturnRows(sqlmock.NewRows([]string{"cursor"}).AddRow(int64(1)))
	mock.ExpectCommit()

	entry, err := svc.AddAddendum(context.Background(), AddendumInput{
		ExperimentID:      "exp-1",
		AuthorUserID:      "user-1",
		Body:              "new text",
		ClientBaseEntryID: "",
	})
	if err != nil {
		t.Fatalf("AddAddendum with empty base should force-append, got error: %v", err)
	}
	if entry.ID != "entry-new" {
		t.Fatalf("entry.ID = %q, want entry-new", entry.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAddAddendumRejectsNonOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner_user_id, status FROM experiments`).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id", "status"}).AddRow("user-1", "draft"))

	_, err = svc.AddAddendum(context.Background(), AddendumInput{
		ExperimentID:      "exp-1",
		AuthorUserID:      "user-2",
		Body:              "new text",
		ClientBaseEntryID: "entry-1",
	})
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected Forbidden error, got %v", err)
	}
}

func TestAddAddendumRejectsEmptyBody(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)
	_, err = svc.AddAddendum(context.Background(), AddendumInput{ExperimentID: "exp-1", AuthorUserID: "user-1"})
	if apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("expected InvalidInput error, got %v", err)
	}
}

func TestMarkCompletedRejectsNonOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner_user_id FROM experiments`).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_user_id"}).AddRow("user-1"))

	_, err = svc.MarkCompleted(context.Background(), "exp-1", "user-2")
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected Forbidden error, got %v", err)
	}
}

func TestGetHistoryReturnsEntriesInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	svc := NewService(db, nil)

	now := time.Now()
	mock.ExpectQuery(`SELECT id, experiment_id, author_user_id, entry_type`).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "experiment_id", "author_user_id", "entry_type", "supersedes_entry_id", "body", "created_at",
		}).
			AddRow("entry-1", "exp-1", "user-1", "original", "", "first", now).
			AddRow("entry-2", "exp-1", "user-1", "addendum", "entry-1", "second", now.Add(time.Minute)))

	entries, err := svc.GetHistory(context.Background(), "exp-1")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].EntryType != EntryOriginal || entries[1].EntryType != EntryAddendum {
		t.Fatalf("unexpected entry types: %v, %v", entries[0].EntryType, entries[1].EntryType)
	}
}
