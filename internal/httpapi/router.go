package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mhendzel2/ELNOTE-sub001/internal/attachments"
	"github.com/mhendzel2/ELNOTE-sub001/internal/auth"
	"github.com/mhendzel2/ELNOTE-sub001/internal/collab"
	"github.com/mhendzel2/ELNOTE-sub001/internal/experiments"
	"github.com/mhendzel2/ELNOTE-sub001/internal/ops"
	"github.com/mhendzel2/ELNOTE-sub001/internal/reconcile"
	"github.com/mhendzel2/ELNOTE-sub001/internal/signatures"
	"github.com/mhendzel2/ELNOTE-sub001/internal/syncfeed"
)

// Deps is every dependency the router hands to its handlers. One Deps is
// built once at startup in cmd/elnote-server and threaded through.
type Deps struct {
	Tokens      *auth.TokenIssuer
	AuthSvc     *auth.Service
	Experiments *experiments.Service
	Collab      *collab.Service
	Signatures  *signatures.Service
	Attachments *attachments.Service
	Reconciler  *reconcile.Reconciler
	Ops         *ops.Service
	Hub         *syncfeed.Hub
	DB          *sql.DB
	RequireTLS  bool
}

// NewRouter builds the full chi.Mux: public health check, auth middleware
// that attaches (but does not require) a Principal, and every versioned
// route under /v1.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	if d.RequireTLS {
		r.Use(requireTLS)
	}
	r.Use(auth.Middleware(d.Tokens))

	r.Get("/healthz", handleHealthz(d))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", handleLogin(d))
		r.Post("/auth/refresh", handleRefresh(d))
		r.Post("/auth/logout", handleLogout(d))
		r.Post("/auth/default-admin/reset", handleDefaultAdminReset(d))
		r.Get("/auth/devices", handleListDevices(d))
		r.Post("/auth/devices/{deviceID}/revoke", handleRevokeDevice(d))

		r.Post("/experiments", handleCreateExperiment(d))
		r.Get("/experiments/{id}", handleGetExperiment(d))
		r.Get("/experiments/{id}/history", handleGetHistory(d))
		r.Post("/experiments/{id}/addendums", handleAddAddendum(d))
		r.Post("/experiments/{id}/complete", handleCompleteExperiment(d))

		r.Post("/experiments/{id}/comments", handleAddComment(d))
		r.Get("/experiments/{id}/comments", handleListComments(d))
		r.Post("/proposals", handleCreateProposal(d))
		r.Get("/proposals", handleListProposals(d))

		r.Get("/sync/pull", handleSyncPull(d))
		r.Get("/sync/conflicts", handleSyncConflicts(d))
		r.Get("/sync/ws", handleSyncWS(d))

		r.Post("/attachments/initiate", handleInitiateAttachment(d))
		r.Post("/attachments/{id}/complete", handleCompleteAttachment(d))
		r.Get("/attachments/{id}/download", handleDownloadAttachment(d))
		r.Get("/experiments/{id}/attachments", handleListAttachments(d))

		r.Post("/signatures", handleSign(d))
		r.Get("/experiments/{id}/signatures/verify", handleVerifySignatures(d))

		r.Get("/ops/dashboard", handleOpsDashboard(d))
		r.Get("/ops/audit/verify", handleOpsAuditVerify(d))
		r.Post("/ops/attachments/reconcile", handleOpsReconcile(d))
		r.Get("/ops/attachments/reconcile/runs", handleOpsReconcileRuns(d))
		r.Post("/ops/attachments/findings/{id}/resolve", handleOpsResolveFinding(d))
		r.Get("/ops/forensic/export", handleOpsForensicExport(d))
	})

	return r
}

// securityHeaders sets the one response header every handler shares:
// browsers must not MIME-sniff attachment download redirects.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// requireTLS rejects plaintext requests once REQUIRE_TLS is set, trusting
// the X-Forwarded-Proto header set by the terminating proxy since Go's own
// http.Server rarely terminates TLS directly in these deployments.
func requireTLS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error": "TLS is required",
				"kind":  "Forbidden",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func handleHealthz(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			if err := d.DB.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unreachable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
