package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"local.dev/campus-market/internal/blob"
	"local.dev/campus-market/internal/gateway"
	"local.dev/campus-market/internal/market"
	"local.dev/campus-market/internal/session"
	"local.dev/campus-market/internal/store"
)

const (
	alice = "alice@example.edu"
	bob   = "bob@example.edu"
)

type testServer struct {
	*httptest.Server
	app *AppCtx
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	m := market.New(market.Deps{
		Store: store.NewMemory(),
		Auth:  session.NewDevAuth(),
		Blob:  blob.NewDir(dir, "/uploads"),
	})
	hub := NewHub()
	detach := hub.Attach(m)
	app := &AppCtx{Market: m, Events: hub, UploadsDir: dir}
	srv := httptest.NewServer(NewRouter(app))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		detach()
		m.Close()
	})
	return &testServer{Server: srv, app: app}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '[' {
		var list []any
		require.NoError(t, json.Unmarshal(raw, &list))
		out["items"] = list
	} else if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return res.StatusCode, out
}

func (s *testServer) login(t *testing.T, email string) {
	t.Helper()
	if _, ok := s.app.Market.Session.CurrentActor(); ok {
		code, _ := s.do(t, http.MethodPost, "/session/logout", nil)
		require.Equal(t, http.StatusOK, code)
	}
	code, body := s.do(t, http.MethodPost, "/session/login", map[string]string{"email": email, "password": "pw"})
	require.Equal(t, http.StatusOK, code, body)
}

func (s *testServer) addListing(t *testing.T, title string) string {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/listings", map[string]any{
		"title": title, "category": "Textbooks", "price": 300, "condition": "Good", "location": "Library",
	})
	require.Equal(t, http.StatusCreated, code, body)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestSignedOutRequestsAreRejected(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodGet, "/listings", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(t, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["signedIn"])
	assert.Equal(t, false, body["mirrorActive"])
}

func TestListingRoutes(t *testing.T) {
	s := newTestServer(t)
	s.login(t, alice)

	id := s.addListing(t, "Calculus Textbook")

	code, body := s.do(t, http.MethodGet, "/listings", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["items"], 1)

	code, body = s.do(t, http.MethodGet, "/listings?category=Electronics", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["items"])

	code, body = s.do(t, http.MethodGet, "/listings/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, alice, body["sellerId"])

	code, _ = s.do(t, http.MethodPost, "/listings", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodPost, "/listings", map[string]any{"title": " ", "category": "Textbooks", "condition": "Good"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, body = s.do(t, http.MethodGet, "/listings/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, body["error"], "not found answers with the JSON error shape")
	code, body = s.do(t, http.MethodGet, "/users/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, body["error"])

	code, _ = s.do(t, http.MethodGet, "/admin/users", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = s.do(t, http.MethodPost, "/listings/describe", map[string]string{"title": "Lamp", "category": "Other"})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["description"], "This is a Lamp")

	s.login(t, bob)
	code, body = s.do(t, http.MethodPost, "/listings/"+id+"/wishlist", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["inWishlist"])
	code, body = s.do(t, http.MethodGet, "/wishlist", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["items"], 1)

	code, _ = s.do(t, http.MethodDelete, "/listings/"+id, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestConversationRoutes(t *testing.T) {
	s := newTestServer(t)
	s.login(t, alice)
	id := s.addListing(t, "Calculus Textbook")

	s.login(t, bob)
	code, _ := s.do(t, http.MethodPost, "/conversations/"+alice+"/messages", map[string]string{
		"content": "Is this available?", "itemId": id,
	})
	require.Equal(t, http.StatusCreated, code)
	code, _ = s.do(t, http.MethodPost, "/conversations/"+bob+"/messages", map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusBadRequest, code, "cannot message yourself")

	s.login(t, alice)
	code, body := s.do(t, http.MethodGet, "/conversations", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["totalUnread"])
	require.Len(t, body["conversations"], 1)

	code, body = s.do(t, http.MethodGet, "/conversations/"+bob+"/messages?itemId="+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["items"], 1)

	code, body = s.do(t, http.MethodPost, "/conversations/"+bob+"/read?itemId="+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["marked"])

	_, body = s.do(t, http.MethodGet, "/conversations", nil)
	assert.EqualValues(t, 0, body["totalUnread"])
}

func TestMarkReadReportsPartialCount(t *testing.T) {
	s := newTestServer(t)
	s.login(t, alice)
	id := s.addListing(t, "Calculus Textbook")

	s.login(t, bob)
	for _, text := range []string{"Is this available?", "Still there?"} {
		code, _ := s.do(t, http.MethodPost, "/conversations/"+alice+"/messages", map[string]string{"content": text, "itemId": id})
		require.Equal(t, http.StatusCreated, code)
	}
	s.login(t, alice)

	// 第一筆已讀寫入失敗，第二筆成功
	mem, ok := s.app.Market.Store.(*store.Memory)
	require.True(t, ok)
	var failed atomic.Bool
	mem.SetFault(func(op string, c store.Collection, _ string) error {
		if op == "update" && c == store.Messages && failed.CompareAndSwap(false, true) {
			return errors.New("unavailable")
		}
		return nil
	})

	code, body := s.do(t, http.MethodPost, "/conversations/"+bob+"/read?itemId="+id, nil)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.EqualValues(t, 1, body["marked"])
	assert.NotEmpty(t, body["error"])

	mem.SetFault(nil)
	_, body = s.do(t, http.MethodGet, "/conversations", nil)
	assert.EqualValues(t, 1, body["totalUnread"], "the failed write stays unread")
}

func TestUploadRoute(t *testing.T) {
	s := newTestServer(t)
	s.login(t, alice)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("bucket", "items"))
	require.NoError(t, mw.WriteField("prefix", "listings"))
	fw, err := mw.CreateFormFile("file", "lamp.png")
	require.NoError(t, err)
	_, _ = fw.Write(append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{7}, 64)...))
	require.NoError(t, mw.Close())

	res, err := http.Post(s.URL+"/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var out struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.True(t, strings.HasPrefix(out.URL, "/uploads/items/listings/"), out.URL)
	assert.True(t, strings.HasSuffix(out.URL, "_lamp.png"), out.URL)

	got, err := http.Get(s.URL + out.URL)
	require.NoError(t, err)
	got.Body.Close()
	assert.Equal(t, http.StatusOK, got.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", gateway.ErrInvalid), http.StatusBadRequest},
		{session.ErrInvalidInput, http.StatusBadRequest},
		{blob.ErrUnsupportedType, http.StatusBadRequest},
		{gateway.ErrNoActor, http.StatusUnauthorized},
		{session.ErrInvalidCredentials, http.StatusUnauthorized},
		{gateway.ErrForbidden, http.StatusForbidden},
		{gateway.ErrSuspended, http.StatusForbidden},
		{session.ErrEmailNotVerified, http.StatusForbidden},
		{fmt.Errorf("resolve: %w", store.ErrNotFound), http.StatusNotFound},
		{session.ErrEmailInUse, http.StatusConflict},
		{errors.New("deadline exceeded"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}

	// 第二步失敗：即使底層是 not found 也回 502，並帶上待補做的動作
	rec := httptest.NewRecorder()
	writeError(rec, &gateway.FollowUpError{Op: "resolveComplaint", Pending: "delete listing l1", Err: store.ErrNotFound})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "delete listing l1", body["pending"])
	assert.NotEmpty(t, body["error"])
}

func TestEventsStream(t *testing.T) {
	s := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.app.Events.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.login(t, alice)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var sawActor, sawChange bool
	for !sawActor || !sawChange {
		var ev Event
		require.NoError(t, conn.ReadJSON(&ev))
		switch ev.Type {
		case "actor":
			assert.Equal(t, alice, ev.ActorID)
			sawActor = true
		case "change":
			sawChange = true
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.login(t, alice)
	s.addListing(t, "Lamp")

	res, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(raw), "campus_market_gateway_ops_total")
}
