package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/auth"
	"github.com/mhendzel2/ELNOTE-sub001/internal/experiments"
)

func handleCreateExperiment(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		exp, entry, err := d.Experiments.Create(r.Context(), p.UserID, req.Title, req.Body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"experiment": exp, "entry": entry})
	}
}

func handleGetExperiment(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		view, err := d.Experiments.GetEffectiveView(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := experiments.Authorize(view.Experiment, p.UserID, p.Role); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleGetHistory(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		view, err := d.Experiments.GetEffectiveView(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := experiments.Authorize(view.Experiment, p.UserID, p.Role); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view.Entries)
	}
}

func handleAddAddendum(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		var req struct {
			BaseEntryID string `json:"baseEntryId"`
			Body        string `json:"body"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		entry, err := d.Experiments.AddAddendum(r.Context(), experiments.AddendumInput{
			ExperimentID:      id,
			AuthorUserID:      p.UserID,
			Body:              req.Body,
			ClientBaseEntryID: req.BaseEntryID,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func handleCompleteExperiment(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		exp, err := d.Experiments.MarkCompleted(r.Context(), id, p.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, exp)
	}
}

func handleAddComment(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		var req struct {
			Kind string `json:"kind"`
			Body string `json:"body"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		kind := commentKindFromRequest(req.Kind)
		comment, err := d.Collab.AddComment(r.Context(), p, id, kind, req.Body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	}
}

func handleListComments(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.RequirePrincipal(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		id := chi.URLParam(r, "id")
		comments, err := d.Collab.ListComments(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, comments)
	}
}

func handleCreateProposal(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req struct {
			SourceExperimentID string `json:"sourceExperimentId"`
			Title              string `json:"title"`
			Body               string `json:"body"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		proposal, err := d.Collab.CreateProposal(r.Context(), p, req.SourceExperimentID, req.Title, req.Body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, proposal)
	}
}

func handleListProposals(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.RequirePrincipal(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		sourceExperimentID := r.URL.Query().Get("sourceExperimentId")
		if sourceExperimentID == "" {
			writeError(w, r, apperr.InvalidInput("sourceExperimentId is required"))
			return
		}
		proposals, err := d.Collab.ListProposals(r.Context(), sourceExperimentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, proposals)
	}
}
