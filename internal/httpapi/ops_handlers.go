package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/auth"
)

// requireAdmin is the common gate for every /v1/ops/* route: only admins
// see rollup counters, audit-chain health, and forensic exports.
func requireAdmin(r *http.Request) (*auth.Principal, error) {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return nil, err
	}
	if err := auth.RequireRole(p, auth.RoleAdmin); err != nil {
		return nil, err
	}
	return p, nil
}

func handleOpsDashboard(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := requireAdmin(r); err != nil {
			writeError(w, r, err)
			return
		}
		dash, err := d.Ops.Dashboard(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, dash)
	}
}

func handleOpsAuditVerify(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := requireAdmin(r); err != nil {
			writeError(w, r, err)
			return
		}
		result, err := d.Ops.VerifyAuditChain(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleOpsReconcile(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := requireAdmin(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		run, err := d.Reconciler.Run(r.Context(), p.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleOpsReconcileRuns(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := requireAdmin(r); err != nil {
			writeError(w, r, err)
			return
		}
		runs, err := d.Reconciler.ListRuns(r.Context(), 20)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleOpsResolveFinding(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := requireAdmin(r); err != nil {
			writeError(w, r, err)
			return
		}
		findingID := chi.URLParam(r, "id")
		finding, err := d.Reconciler.ResolveFinding(r.Context(), findingID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, finding)
	}
}

func handleOpsForensicExport(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := requireAdmin(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		experimentID := r.URL.Query().Get("experimentId")
		if experimentID == "" {
			writeError(w, r, apperr.InvalidInput("experimentId is required"))
			return
		}
		export, err := d.Ops.ForensicExport(r.Context(), experimentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := d.Ops.LogForensicExport(r.Context(), p.UserID, experimentID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, export)
	}
}
