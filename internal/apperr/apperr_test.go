package apperr_test

import (
	"fmt"
	"testing"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
)

func TestConstructorsSetKindAndMessage(t *testing.T) {
	cases := []struct {
		name string
		err  *apperr.Error
		kind apperr.Kind
	}{
		{"invalid", apperr.InvalidInput("bad field %s", "foo"), apperr.KindInvalidInput},
		{"unauthorized", apperr.Unauthorized("no token"), apperr.KindUnauthorized},
		{"forbidden", apperr.Forbidden("role check failed"), apperr.KindForbidden},
		{"notfound", apperr.NotFound("experiment %s not found", "exp-1"), apperr.KindNotFound},
		{"conflict", apperr.Conflict("stale base"), apperr.KindConflict},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.err.Kind != c.kind {
				t.Fatalf("Kind = %v, want %v", c.err.Kind, c.kind)
			}
			if c.err.Message == "" {
				t.Fatalf("Message should not be empty")
			}
		})
	}
}

func TestInvalidInputFormatsArgs(t *testing.T) {
	err := apperr.InvalidInput("bad field %s", "foo")
	want := "bad field foo"
	if err.Message != want {
		t.Fatalf("Message = %q, want %q", err.Message, want)
	}
}

func TestErrorStringIncludesKind(t *testing.T) {
	err := apperr.NotFound("experiment %s not found", "exp-1")
	got := err.Error()
	want := "NotFound: experiment exp-1 not found"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrorStringWithoutMessageIsJustKind(t *testing.T) {
	err := &apperr.Error{Kind: apperr.KindConflict}
	if got := err.Error(); got != string(apperr.KindConflict) {
		t.Fatalf("Error() = %q, want %q", got, apperr.KindConflict)
	}
}

func TestAsUnwrapsWrappedError(t *testing.T) {
	base := apperr.Conflict("stale base")
	wrapped := fmt.Errorf("addendum write failed: %w", base)

	var target *apperr.Error
	if !apperr.As(wrapped, &target) {
		t.Fatalf("As() = false, want true for wrapped apperr.Error")
	}
	if target.Kind != apperr.KindConflict {
		t.Fatalf("unwrapped Kind = %v, want %v", target.Kind, apperr.KindConflict)
	}
}

func TestAsFalseForPlainError(t *testing.T) {
	var target *apperr.Error
	if apperr.As(fmt.Errorf("plain error"), &target) {
		t.Fatalf("As() = true, want false for a non-apperr error")
	}
}

func TestKindOfReturnsEmptyForPlainError(t *testing.T) {
	if kind := apperr.KindOf(fmt.Errorf("plain error")); kind != "" {
		t.Fatalf("KindOf() = %q, want empty", kind)
	}
}

func TestKindOfReturnsKindForWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("wrap: %w", apperr.Forbidden("nope"))
	if kind := apperr.KindOf(wrapped); kind != apperr.KindForbidden {
		t.Fatalf("KindOf() = %q, want %q", kind, apperr.KindForbidden)
	}
}

func TestWithFieldsAttachesAndReturnsSameError(t *testing.T) {
	fields := map[string]any{"conflictArtifactId": "c-1"}
	err := apperr.Conflict("stale base").WithFields(fields)
	if err.Fields["conflictArtifactId"] != "c-1" {
		t.Fatalf("Fields[conflictArtifactId] = %v, want c-1", err.Fields["conflictArtifactId"])
	}
}
