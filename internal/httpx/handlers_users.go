package httpx

import (
	"net/http"

	"local.dev/campus-market/internal/gateway"
)

// GET /users/{id}
func HandleUser(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := app.Market.Mirror.AccountByID(r.PathValue("id"))
		if !ok {
			writeError(w, gateway.ErrNotFound)
			return
		}
		a.Wishlist = nil // 別人的收藏不外流
		writeJSON(w, http.StatusOK, a)
	}
}

// POST /users/{id}/rate
func HandleRateSeller(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Rating int `json:"rating"`
		}
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, err)
			return
		}
		id := r.PathValue("id")
		if err := app.Market.Gateway.RateSeller(r.Context(), id, in.Rating); err != nil {
			writeError(w, err)
			return
		}
		a, _ := app.Market.Mirror.AccountByID(id)
		writeJSON(w, http.StatusOK, map[string]any{"rating": a.Rating, "ratingsCount": a.RatingsCount})
	}
}
