package httpx

import (
	"net/http"

	"local.dev/campus-market/internal/conversations"
)

// GET /conversations
func HandleConversations(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs := app.Market.Projector.Current()
		writeJSON(w, http.StatusOK, map[string]any{
			"conversations": convs,
			"totalUnread":   conversations.TotalUnread(convs),
		})
	}
}

// itemID 空字串 = 一般對話
func threadItem(r *http.Request) string {
	if v := r.URL.Query().Get("itemId"); v != conversations.General {
		return v
	}
	return ""
}

// GET /conversations/{userId}/messages?itemId= ；POST /conversations/{userId}/messages
func HandleMessages(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		other := r.PathValue("userId")
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, app.Market.Projector.Thread(other, threadItem(r)))

		case http.MethodPost:
			var in struct {
				Content string `json:"content"`
				ItemID  string `json:"itemId"`
			}
			if err := decodeJSON(w, r, &in); err != nil {
				writeError(w, err)
				return
			}
			id, err := app.Market.Gateway.SendMessage(r.Context(), other, in.Content, in.ItemID)
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

// POST /conversations/{userId}/read?itemId=：打開對話時呼叫
func HandleMarkRead(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := app.Market.Gateway.MarkMessagesAsRead(r.Context(), r.PathValue("userId"), threadItem(r))
		if err != nil {
			// 部分寫入成功時一併回報已標記的數量
			writeErrorWith(w, err, map[string]any{"marked": n})
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"marked": n})
	}
}
