package syncfeed

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestAppendEventReturnsGeneratedCursor(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO sync_events`).
		WithArgs("owner-1", "actor-1", "", "experiment.created", "experiment", "exp-1", `{"title":"t"}`).
		WillReturnRows(sqlmock.NewRows([]string{"cursor"}).AddRow(int64(9)))

	cursor, err := AppendEvent(context.Background(), db, AppendInput{
		OwnerUserID:   "owner-1",
		ActorUserID:   "actor-1",
		EventType:     "experiment.created",
		AggregateType: "experiment",
		AggregateID:   "exp-1",
		Payload:       map[string]any{"title": "t"},
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if cursor != 9 {
		t.Fatalf("cursor = %d, want 9", cursor)
	}
}

func TestAppendEventPropagatesInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO sync_events`).
		WillReturnError(sqlErr("constraint violation"))

	_, err = AppendEvent(context.Background(), db, AppendInput{OwnerUserID: "owner-1", EventType: "x", AggregateType: "y", AggregateID: "z"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

type sqlErr string

func (e sqlErr) Error() string { return string(e) }
