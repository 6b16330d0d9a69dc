package httpx

import (
	"net/http"

	"local.dev/campus-market/internal/models"
)

// GET /admin/users
func HandleAdminUsers(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Market.Mirror.Accounts())
	}
}

// POST /admin/users/{id}/suspend：切換停權
func HandleToggleSuspend(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		suspended, err := app.Market.Gateway.ToggleSuspendAccount(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"suspended": suspended})
	}
}

// GET /admin/complaints
func HandleAdminComplaints(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Market.Mirror.Complaints())
	}
}

// POST /admin/complaints/{id}/resolve {"action":"dismiss"|"deleteItem"}
func HandleResolveComplaint(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Action models.ComplaintAction `json:"action"`
		}
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, err)
			return
		}
		if err := app.Market.Gateway.ResolveComplaint(r.Context(), r.PathValue("id"), in.Action); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// GET /admin/claims
func HandleAdminClaims(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Market.Mirror.Claims())
	}
}

// POST /admin/claims/{id}/resolve {"status":"approved"|"rejected"}
func HandleResolveClaim(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Status models.ClaimStatus `json:"status"`
		}
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, err)
			return
		}
		if err := app.Market.Gateway.ResolveClaim(r.Context(), r.PathValue("id"), in.Status); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
