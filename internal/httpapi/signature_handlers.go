package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mhendzel2/ELNOTE-sub001/internal/auth"
	"github.com/mhendzel2/ELNOTE-sub001/internal/signatures"
)

func handleSign(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req struct {
			ExperimentID  string `json:"experimentId"`
			Password      string `json:"password"`
			SignatureType string `json:"signatureType"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		sig, err := d.Signatures.Sign(r.Context(), req.ExperimentID, p.UserID, req.Password, signatures.Type(req.SignatureType))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sig)
	}
}

func handleVerifySignatures(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.RequirePrincipal(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		result, err := d.Signatures.Verify(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
