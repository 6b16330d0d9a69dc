// internal/httpx/middleware.go
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/apex/log"

	"local.dev/campus-market/internal/blob"
	"local.dev/campus-market/internal/describe"
	"local.dev/campus-market/internal/gateway"
	"local.dev/campus-market/internal/market"
	"local.dev/campus-market/internal/models"
	"local.dev/campus-market/internal/session"
)

type AppCtx struct {
	Market *market.Market
	Events *Hub

	// 開發模式才有：本機上傳檔案的目錄，掛在 /uploads/
	UploadsDir string
}

var errBadRequest = errors.New("bad request")

// WithActor 沒有登入中的帳號就回 401
func WithActor(app *AppCtx, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := app.Market.Session.CurrentActor(); !ok {
			writeError(w, session.ErrNoActor)
			return
		}
		next(w, r)
	}
}

// WithAdmin 只讓 ADMIN 通過
func WithAdmin(app *AppCtx, next http.HandlerFunc) http.HandlerFunc {
	return WithActor(app, func(w http.ResponseWriter, r *http.Request) {
		if a, _ := app.Market.Session.CurrentActor(); a.Role != models.RoleAdmin {
			writeError(w, gateway.ErrForbidden)
			return
		}
		next(w, r)
	})
}

func CORS(next http.Handler) http.Handler {
	wrap := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
	return wrap
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

// statusFor 把各層的錯誤對應到 HTTP 狀態碼；認不得的一律當遠端失敗
func statusFor(err error) int {
	var fu *gateway.FollowUpError
	switch {
	case errors.As(err, &fu):
		return http.StatusBadGateway
	case errors.Is(err, errBadRequest),
		errors.Is(err, gateway.ErrInvalid),
		errors.Is(err, session.ErrInvalidInput),
		errors.Is(err, describe.ErrEmptyTitle),
		errors.Is(err, blob.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrNoActor),
		errors.Is(err, session.ErrNoActor),
		errors.Is(err, session.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrForbidden),
		errors.Is(err, gateway.ErrSuspended),
		errors.Is(err, session.ErrEmailNotVerified):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrEmailInUse):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorWith(w, err, nil)
}

// writeErrorWith 在錯誤內容之外附帶 extra 欄位
func writeErrorWith(w http.ResponseWriter, err error, extra map[string]any) {
	status := statusFor(err)
	body := map[string]any{}
	for k, v := range extra {
		body[k] = v
	}
	body["error"] = err.Error()
	var fu *gateway.FollowUpError
	if errors.As(err, &fu) {
		body["pending"] = fu.Pending
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, body)
}
