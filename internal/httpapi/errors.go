// Package httpapi wires every service package to chi routes, mapping the
// apperr taxonomy to HTTP status codes in one place.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a service error to its HTTP status and a structured
// body. Unknown errors collapse to 500 with a correlation id logged
// server-side rather than a raw stack trace in the response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body := map[string]any{"error": appErr.Message, "kind": string(appErr.Kind)}
		for k, v := range appErr.Fields {
			body[k] = v
		}
		writeJSON(w, statusFor(appErr.Kind), body)
		return
	}

	corrID := requestCorrelationID(r)
	log.Printf("httpapi: unhandled error [%s]: %v", corrID, err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":         "internal error",
		"kind":          "Internal",
		"correlationId": corrID,
	})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return apperr.InvalidInput("invalid request body: %v", err)
	}
	return nil
}

func requestCorrelationID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return "n/a"
}
