package httpapi

import (
	"net/http"
	"strconv"

	"github.com/mhendzel2/ELNOTE-sub001/internal/auth"
	"github.com/mhendzel2/ELNOTE-sub001/internal/syncfeed"
)

func handleSyncPull(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		cursor := syncfeed.ParseCursor(r.URL.Query().Get("cursor"))
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, perr := strconv.Atoi(raw); perr == nil {
				limit = n
			}
		}
		res, err := syncfeed.Pull(r.Context(), d.DB, p.UserID, cursor, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleSyncConflicts(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, perr := strconv.Atoi(raw); perr == nil {
				limit = n
			}
		}
		conflicts, err := d.Experiments.ListConflicts(r.Context(), p.UserID, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conflicts)
	}
}

// handleSyncWS upgrades to a WebSocket connection. The access token must be
// checked before the upgrade happens (once upgraded there is no path left
// to send a JSON error body), so this handler requires a Principal itself
// rather than relying purely on the request-scoped middleware.
func handleSyncWS(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		cursor := syncfeed.ParseCursor(r.URL.Query().Get("cursor"))
		if err := syncfeed.ServeWS(w, r, d.Hub, d.DB, p.UserID, cursor); err != nil {
			writeError(w, r, err)
			return
		}
	}
}
