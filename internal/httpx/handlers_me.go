package httpx

import (
	"net/http"

	"local.dev/campus-market/internal/models"
)

// GET /me 讀自己的帳號、PATCH 只更新有帶的欄位
func HandleMe(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			a, _ := app.Market.Session.CurrentActor()
			writeJSON(w, http.StatusOK, a)
		case http.MethodPatch:
			var p models.AccountPatch
			if err := decodeJSON(w, r, &p); err != nil {
				writeError(w, err)
				return
			}
			if err := app.Market.Gateway.UpdateAccount(r.Context(), p); err != nil {
				writeError(w, err)
				return
			}
			a, _ := app.Market.Session.CurrentActor()
			writeJSON(w, http.StatusOK, a)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// GET /wishlist：收藏清單裡還存在的商品
func HandleWishlist(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, _ := app.Market.Session.CurrentActor()
		out := []models.Listing{}
		for _, l := range app.Market.Mirror.Listings() {
			if a.InWishlist(l.ID) {
				out = append(out, l)
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}
