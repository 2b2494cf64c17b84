package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/snakeclub/chat-robot/internal/auth"
	"github.com/snakeclub/chat-robot/internal/config"
)

func setupAuthRouter(t *testing.T) chi.Router {
	t.Helper()
	issuer, err := auth.NewIssuer(config.AuthConfig{
		Secret:   "0123456789abcdef0123",
		TokenTTL: time.Hour,
		Clients:  []config.AuthClient{{UserID: 7, Username: "app", Password: "pw"}},
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	r := chi.NewRouter()
	newTestHandler(t).WithAuth(issuer).RegisterRoutes(r)
	return r
}

func doWithHeaders(t *testing.T, r http.Handler, method, path string, headers map[string]string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decoding %q: %v", method, path, w.Body.String(), err)
	}
	return w, out
}

func login(t *testing.T, r http.Handler) string {
	t.Helper()
	w, body := do(t, r, "POST", "/api/login", map[string]any{"username": "app", "password": "pw"})
	if w.Code != http.StatusOK || body["status"] != StatusOK || body["user_id"] != float64(7) {
		t.Fatalf("login = %d %v", w.Code, body)
	}
	return body["token"].(string)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	r := setupAuthRouter(t)
	for _, creds := range []map[string]any{
		{"username": "app", "password": "wrong"},
		{"username": "nobody", "password": "pw"},
	} {
		w, body := do(t, r, "POST", "/api/login", creds)
		if w.Code != http.StatusUnauthorized || body["status"] != StatusLoginFailed || body["token"] != nil {
			t.Errorf("login %v = %d %v", creds, w.Code, body)
		}
	}
}

func TestQARoutesRequireToken(t *testing.T) {
	r := setupAuthRouter(t)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"no token", nil},
		{"garbage token", map[string]string{"Authorization": "JWT not-a-token"}},
		{"unknown scheme", map[string]string{"Authorization": "Basic YXBwOnB3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := doWithHeaders(t, r, "POST", "/api/qa/sessions", tt.headers, nil)
			if w.Code != http.StatusUnauthorized || body["status"] != StatusUnauthorized {
				t.Errorf("create session = %d %v", w.Code, body)
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestQARoutesAcceptToken(t *testing.T) {
	r := setupAuthRouter(t)
	token := login(t, r)

	for _, scheme := range []string{"JWT", "Bearer"} {
		headers := map[string]string{"Authorization": scheme + " " + token, "UserID": "7"}
		w, body := doWithHeaders(t, r, "POST", "/api/qa/sessions", headers, nil)
		if w.Code != http.StatusOK || body["session_id"] == nil {
			t.Fatalf("%s create session = %d %v", scheme, w.Code, body)
		}
		w, body = doWithHeaders(t, r, "POST", "/api/qa/search", headers, map[string]any{
			"session_id": body["session_id"], "question": "你好",
		})
		if w.Code != http.StatusOK || body["status"] != StatusOK {
			t.Errorf("%s search = %d %v", scheme, w.Code, body)
		}
	}

	// A token presented for another user is refused.
	w, _ := doWithHeaders(t, r, "POST", "/api/qa/sessions", map[string]string{"Authorization": "JWT " + token, "UserID": "8"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("mismatched user = %d", w.Code)
	}

	w, body := doWithHeaders(t, r, "GET", "/api/qa/token", map[string]string{"Authorization": "JWT " + token}, nil)
	if w.Code != http.StatusOK || body["user_id"] != float64(7) || body["token"] == "" {
		t.Errorf("refresh token = %d %v", w.Code, body)
	}
}

func TestMessageRoutesStayOpen(t *testing.T) {
	r := setupAuthRouter(t)
	if w, body := do(t, r, "GET", "/api/messages/7/count", nil); w.Code != http.StatusOK {
		t.Errorf("message count = %d %v", w.Code, body)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	r := setupAuthRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("dial without token: err %v, resp %v", err, resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"?token="+login(t, r), nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(chatRequest{Type: "session"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var created chatResponse
	if err := conn.ReadJSON(&created); err != nil || created.SessionID == "" {
		t.Errorf("session = %+v, %v", created, err)
	}
}
