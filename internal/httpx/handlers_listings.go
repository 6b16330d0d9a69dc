package httpx

import (
	"net/http"
	"strings"

	"local.dev/campus-market/internal/gateway"
	"local.dev/campus-market/internal/models"
)

// ---- Listings ----

// GET /listings?category=&q=&includeSold=1
func HandleListings(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			category := models.Category(r.URL.Query().Get("category"))
			q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
			includeSold := r.URL.Query().Get("includeSold") == "1"

			out := []models.Listing{}
			for _, l := range app.Market.Mirror.Listings() {
				if l.IsSold && !includeSold {
					continue
				}
				if category != "" && l.Category != category {
					continue
				}
				if q != "" && !strings.Contains(strings.ToLower(l.Title), q) &&
					!strings.Contains(strings.ToLower(l.Description), q) {
					continue
				}
				out = append(out, l)
			}
			writeJSON(w, http.StatusOK, out)

		case http.MethodPost:
			var in models.NewListing
			if err := decodeJSON(w, r, &in); err != nil {
				writeError(w, err)
				return
			}
			id, err := app.Market.Gateway.AddListing(r.Context(), in)
			if err != nil {
				writeError(w, err)
				return
			}
			if l, ok := app.Market.Mirror.ListingByID(id); ok {
				writeJSON(w, http.StatusCreated, l)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"id": id})

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// GET / DELETE /listings/{id}
func HandleListingDetail(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		switch r.Method {
		case http.MethodGet:
			l, ok := app.Market.Mirror.ListingByID(id)
			if !ok {
				writeError(w, gateway.ErrNotFound)
				return
			}
			writeJSON(w, http.StatusOK, l)

		case http.MethodDelete:
			if err := app.Market.Gateway.RemoveListing(r.Context(), id); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// POST /listings/{id}/sold
func HandleMarkSold(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := app.Market.Gateway.MarkListingSold(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// POST /listings/{id}/wishlist：切換收藏
func HandleToggleWishlist(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := app.Market.Gateway.ToggleWishlist(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"inWishlist": in})
	}
}

// POST /listings/{id}/report
func HandleReportListing(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Reason string `json:"reason"`
		}
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, err)
			return
		}
		id, err := app.Market.Gateway.ReportListing(r.Context(), r.PathValue("id"), in.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

// POST /listings/describe：產生商品描述，失敗時拿到的是固定文字
func HandleDescribe(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Title    string          `json:"title"`
			Category models.Category `json:"category"`
		}
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, err)
			return
		}
		text, err := app.Market.Describer.Generate(r.Context(), in.Title, in.Category)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"description": text})
	}
}

// ---- Lost & found ----

// GET /lost ；POST /lost
func HandleLost(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, app.Market.Mirror.LostReports())

		case http.MethodPost:
			var in models.NewLostReport
			if err := decodeJSON(w, r, &in); err != nil {
				writeError(w, err)
				return
			}
			id, err := app.Market.Gateway.AddLostReport(r.Context(), in)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"id": id})

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// POST /lost/{id}/claims
func HandleSubmitClaim(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in models.NewClaim
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, err)
			return
		}
		in.LostItemID = r.PathValue("id")
		id, err := app.Market.Gateway.SubmitClaim(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}
