package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
)

func TestStatusForMapsEveryKind(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindInvalidInput: http.StatusBadRequest,
		apperr.KindUnauthorized: http.StatusUnauthorized,
		apperr.KindForbidden:    http.StatusForbidden,
		apperr.KindNotFound:     http.StatusNotFound,
		apperr.KindConflict:     http.StatusConflict,
		apperr.Kind("bogus"):    http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusFor(kind); got != want {
			t.Fatalf("statusFor(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestWriteErrorRendersAppErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/experiments/exp-1", nil)

	writeError(rec, req, apperr.Conflict("stale base").WithFields(map[string]any{"conflictArtifactId": "c-1"}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["kind"] != "Conflict" {
		t.Fatalf("kind = %v, want Conflict", body["kind"])
	}
	if body["conflictArtifactId"] != "c-1" {
		t.Fatalf("conflictArtifactId = %v, want c-1", body["conflictArtifactId"])
	}
}

func TestWriteErrorCollapsesUnknownErrorsTo500(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/experiments/exp-1", nil)
	req.Header.Set("X-Request-Id", "req-123")

	writeError(rec, req, fmt.Errorf("database exploded"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["correlationId"] != "req-123" {
		t.Fatalf("correlationId = %v, want req-123", body["correlationId"])
	}
	if body["error"] == "database exploded" {
		t.Fatalf("raw internal error must not leak into the response body")
	}
}

func TestRequestCorrelationIDDefaultsToNA(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := requestCorrelationID(req); got != "n/a" {
		t.Fatalf("requestCorrelationID = %q, want n/a", got)
	}
}

func TestDecodeJSONRejectsMalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":`))
	var v map[string]any
	err := decodeJSON(req, &v)
	if apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestDecodeJSONPreservesLargeIntegers(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sizeBytes": 9007199254740993}`))
	var v struct {
		SizeBytes json.Number `json:"sizeBytes"`
	}
	if err := decodeJSON(req, &v); err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	if v.SizeBytes.String() != "9007199254740993" {
		t.Fatalf("SizeBytes = %s, want 9007199254740993", v.SizeBytes.String())
	}
}
