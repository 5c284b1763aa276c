package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/auth"
)

func handleInitiateAttachment(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req struct {
			ExperimentID string `json:"experimentId"`
			MimeType     string `json:"mimeType"`
			SizeBytes    int64  `json:"sizeBytes"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := d.Attachments.Initiate(r.Context(), req.ExperimentID, p.UserID, req.MimeType, req.SizeBytes)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func handleCompleteAttachment(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		var req struct {
			Checksum  string `json:"checksum"`
			SizeBytes int64  `json:"sizeBytes"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		att, err := d.Attachments.Complete(r.Context(), id, p.UserID, req.Checksum, req.SizeBytes)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, att)
	}
}

func handleDownloadAttachment(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		url, err := d.Attachments.Download(r.Context(), id, p.UserID, p.Role == auth.RoleAdmin)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, url)
	}
}

func handleListAttachments(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, apperr.InvalidInput("experiment id is required"))
			return
		}
		list, err := d.Attachments.ListByExperiment(r.Context(), id, p.UserID, p.Role == auth.RoleAdmin)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
