package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/auth"
)

func handleLogin(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email      string `json:"email"`
			Password   string `json:"password"`
			DeviceName string `json:"deviceName"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := d.AuthSvc.Login(r.Context(), req.Email, req.Password, req.DeviceName)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleRefresh(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := d.AuthSvc.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleLogout(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := d.AuthSvc.Logout(r.Context(), req.RefreshToken); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
	}
}

// handleDefaultAdminReset rotates the seeded default admin's password
// exactly once; no auth is required since the whole point is recovering a
// fresh install before any credentials exist.
func handleDefaultAdminReset(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			NewPassword string `json:"newPassword"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := d.AuthSvc.ResetDefaultAdminPassword(r.Context(), req.NewPassword); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "rotated"})
	}
}

func handleListDevices(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		devices, err := d.AuthSvc.ListDevices(r.Context(), p.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, devices)
	}
}

func handleRevokeDevice(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		deviceID := chi.URLParam(r, "deviceID")
		if deviceID == "" {
			writeError(w, r, apperr.InvalidInput("deviceID is required"))
			return
		}
		if err := d.AuthSvc.RevokeDevice(r.Context(), p.UserID, deviceID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	}
}
