package httpx

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"local.dev/campus-market/internal/metrics"
	"local.dev/campus-market/internal/store"
)

// NewRouter 註冊所有路由並套上 CORS
func NewRouter(app *AppCtx) http.Handler {
	metrics.Register()
	mux := http.NewServeMux()

	// ---- session ----
	mux.HandleFunc("POST /session/login", HandleLogin(app))
	mux.HandleFunc("POST /session/signup", HandleSignup(app))
	mux.HandleFunc("POST /session/google", HandleGoogleLogin(app))
	mux.HandleFunc("POST /session/logout", HandleLogout(app))
	mux.HandleFunc("POST /session/reset", HandleResetPassword(app))

	// ---- me / users ----
	mux.HandleFunc("/me", WithActor(app, HandleMe(app)))
	mux.HandleFunc("GET /wishlist", WithActor(app, HandleWishlist(app)))
	mux.HandleFunc("GET /users/{id}", WithActor(app, HandleUser(app)))
	mux.HandleFunc("POST /users/{id}/rate", WithActor(app, HandleRateSeller(app)))

	// ---- listings ----
	mux.HandleFunc("/listings", WithActor(app, HandleListings(app)))
	mux.HandleFunc("POST /listings/describe", WithActor(app, HandleDescribe(app)))
	mux.HandleFunc("/listings/{id}", WithActor(app, HandleListingDetail(app)))
	mux.HandleFunc("POST /listings/{id}/sold", WithActor(app, HandleMarkSold(app)))
	mux.HandleFunc("POST /listings/{id}/wishlist", WithActor(app, HandleToggleWishlist(app)))
	mux.HandleFunc("POST /listings/{id}/report", WithActor(app, HandleReportListing(app)))

	// ---- lost & found ----
	mux.HandleFunc("/lost", WithActor(app, HandleLost(app)))
	mux.HandleFunc("POST /lost/{id}/claims", WithActor(app, HandleSubmitClaim(app)))

	// ---- conversations ----
	mux.HandleFunc("GET /conversations", WithActor(app, HandleConversations(app)))
	mux.HandleFunc("/conversations/{userId}/messages", WithActor(app, HandleMessages(app)))
	mux.HandleFunc("POST /conversations/{userId}/read", WithActor(app, HandleMarkRead(app)))

	// ---- admin ----
	mux.HandleFunc("GET /admin/users", WithAdmin(app, HandleAdminUsers(app)))
	mux.HandleFunc("POST /admin/users/{id}/suspend", WithAdmin(app, HandleToggleSuspend(app)))
	mux.HandleFunc("GET /admin/complaints", WithAdmin(app, HandleAdminComplaints(app)))
	mux.HandleFunc("POST /admin/complaints/{id}/resolve", WithAdmin(app, HandleResolveComplaint(app)))
	mux.HandleFunc("GET /admin/claims", WithAdmin(app, HandleAdminClaims(app)))
	mux.HandleFunc("POST /admin/claims/{id}/resolve", WithAdmin(app, HandleResolveClaim(app)))

	// ---- upload ----
	mux.HandleFunc("POST /upload", WithActor(app, HandleUpload(app)))
	if app.UploadsDir != "" {
		mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(app.UploadsDir))))
	}

	// ---- ops ----
	if app.Events != nil {
		mux.HandleFunc("GET /events", HandleEvents(app.Events))
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", HandleHealth(app))

	return CORS(mux)
}

type setHealth struct {
	LastSync  *time.Time `json:"lastSync,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

// GET /healthz：mirror 是否在跑，以及每個集合最後一次同步的狀況
func HandleHealth(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sets := map[store.Collection]setHealth{}
		for c, h := range app.Market.Mirror.Health() {
			sh := setHealth{LastError: h.LastError}
			if !h.LastSync.IsZero() {
				t := h.LastSync
				sh.LastSync = &t
			}
			sets[c] = sh
		}
		_, signedIn := app.Market.Session.CurrentActor()
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":           true,
			"signedIn":     signedIn,
			"mirrorActive": app.Market.Mirror.Active(),
			"sets":         sets,
		})
	}
}
