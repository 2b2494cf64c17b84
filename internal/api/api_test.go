package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/snakeclub/chat-robot/internal/answers"
	"github.com/snakeclub/chat-robot/internal/config"
	"github.com/snakeclub/chat-robot/internal/db"
	"github.com/snakeclub/chat-robot/internal/embeddings/embeddingstest"
	"github.com/snakeclub/chat-robot/internal/logging"
	"github.com/snakeclub/chat-robot/internal/messages"
	"github.com/snakeclub/chat-robot/internal/nlp"
	"github.com/snakeclub/chat-robot/internal/nlp/nlptest"
	"github.com/snakeclub/chat-robot/internal/plugins"
	"github.com/snakeclub/chat-robot/internal/qa"
	"github.com/snakeclub/chat-robot/internal/reply"
	"github.com/snakeclub/chat-robot/internal/session"
	"github.com/snakeclub/chat-robot/internal/vectordb"
)

func setupRouter(t *testing.T) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	newTestHandler(t).RegisterRoutes(r)
	return r
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	ctx := context.Background()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := answers.NewStore(database)
	index := vectordb.NewChromemIndex(nil)
	q, err := store.AddStdQuestion(ctx, answers.StdQuestion{Collection: "chat", Question: "你好"}, answers.Answer{Text: "你好，请问有什么可以帮您？"})
	if err != nil {
		t.Fatalf("AddStdQuestion: %v", err)
	}
	if err := index.Insert(ctx, "chat", []vectordb.Item{{VectorID: q.VectorID, Text: q.Question, Vector: []float32{1, 0, 0}}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	registry := plugins.NewRegistry()
	plugins.RegisterBuiltins(registry)
	sessions := session.NewMemoryStore()
	engine := qa.New(qa.Deps{
		Answers:  store,
		Vectors:  vectordb.NewAdapter(index, store, logging.Discard()),
		Embedder: embeddingstest.New(3, map[string][]float32{"你好": {1, 0, 0}}),
		Sessions: sessions,
		Registry: registry,
		Config:   config.DefaultConfig().QA,
		Logger:   logging.Discard(),
	})

	seg := nlp.NewSegmenter(nlptest.New(map[string]string{"我要": "v", "转账": "v", "$": "x", "12": "m"}), nil)
	return New(engine, sessions, messages.NewQueue(database, 2), logging.Discard()).
		WithNoMatchLog(store).
		WithSegmenter(seg)
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decoding %q: %v", method, path, w.Body.String(), err)
	}
	return w, out
}

func createSession(t *testing.T, r http.Handler, info map[string]any) string {
	t.Helper()
	w, body := do(t, r, "POST", "/api/qa/sessions", map[string]any{"info": info})
	if w.Code != http.StatusOK || body["status"] != StatusOK {
		t.Fatalf("create session = %d %v", w.Code, body)
	}
	return body["session_id"].(string)
}

func TestSessionLifecycle(t *testing.T) {
	r := setupRouter(t)
	sid := createSession(t, r, map[string]any{"name": "李雷"})

	_, body := do(t, r, "GET", "/api/qa/sessions/"+sid+"/info", nil)
	info := body["info"].(map[string]any)
	if info["name"] != "李雷" || info["ip"] == nil {
		t.Errorf("info = %v", info)
	}

	if w, _ := do(t, r, "PUT", "/api/qa/sessions/"+sid+"/info", map[string]any{"age": 30}); w.Code != http.StatusOK {
		t.Errorf("update info = %d", w.Code)
	}
	_, body = do(t, r, "GET", "/api/qa/sessions/"+sid+"/info", nil)
	if info := body["info"].(map[string]any); info["age"] != float64(30) || info["name"] != "李雷" {
		t.Errorf("merged info = %v", info)
	}

	if w, body := do(t, r, "GET", "/api/qa/sessions/"+sid, nil); w.Code != http.StatusOK || body["exists"] != true {
		t.Errorf("exists = %d %v", w.Code, body)
	}
	if w, _ := do(t, r, "POST", "/api/qa/sessions/"+sid+"/clear", map[string]any{"part": "bogus"}); w.Code != http.StatusBadRequest {
		t.Errorf("clear bogus part = %d", w.Code)
	}
	if w, _ := do(t, r, "POST", "/api/qa/sessions/"+sid+"/clear", map[string]any{"part": "info"}); w.Code != http.StatusOK {
		t.Errorf("clear info = %d", w.Code)
	}
	_, body = do(t, r, "GET", "/api/qa/sessions/"+sid+"/info", nil)
	if info := body["info"].(map[string]any); len(info) != 0 {
		t.Errorf("info after clear = %v", info)
	}

	do(t, r, "DELETE", "/api/qa/sessions/"+sid, nil)
	if w, _ := do(t, r, "GET", "/api/qa/sessions/"+sid, nil); w.Code != http.StatusNotFound {
		t.Errorf("exists after delete = %d", w.Code)
	}
	w, body := do(t, r, "GET", "/api/qa/sessions/"+sid+"/info", nil)
	if w.Code != http.StatusNotFound || body["status"] != StatusSessionNotFound {
		t.Errorf("deleted session = %d %v", w.Code, body)
	}
}

func TestCreateSessionWithoutBody(t *testing.T) {
	r := setupRouter(t)
	req := httptest.NewRequest("POST", "/api/qa/sessions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"session_id"`) {
		t.Errorf("create session = %d %s", w.Code, w.Body.String())
	}
}

func TestSearch(t *testing.T) {
	r := setupRouter(t)
	sid := createSession(t, r, nil)

	tests := []struct {
		name     string
		req      map[string]any
		code     int
		status   string
		wantText string
	}{
		{"answer", map[string]any{"session_id": sid, "question": "你好"}, http.StatusOK, StatusOK, "你好，请问有什么可以帮您？"},
		{"no match", map[string]any{"session_id": sid, "question": "天气"}, http.StatusOK, StatusNoMatch, config.DefaultConfig().QA.NoAnswerStr},
		{"missing session", map[string]any{"question": "你好"}, http.StatusBadRequest, StatusSessionRequired, ""},
		{"unknown session", map[string]any{"session_id": "nope", "question": "你好"}, http.StatusNotFound, StatusSessionNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, r, "POST", "/api/qa/search", tt.req)
			if w.Code != tt.code || body["status"] != tt.status {
				t.Fatalf("search = %d %v, want %d %s", w.Code, body, tt.code, tt.status)
			}
			if tt.wantText == "" {
				return
			}
			replies := body["answers"].([]any)
			first := replies[0].(map[string]any)
			if first["type"] != string(reply.KindText) || first["text"] != tt.wantText {
				t.Errorf("answers = %v", replies)
			}
		})
	}
}

func TestNoMatchLog(t *testing.T) {
	r := setupRouter(t)
	sid := createSession(t, r, map[string]any{"name": "李雷"})
	do(t, r, "POST", "/api/qa/search", map[string]any{"session_id": sid, "question": "天气"})

	_, body := do(t, r, "GET", "/api/qa/no-match?limit=5", nil)
	recs := body["records"].([]any)
	if len(recs) != 1 {
		t.Fatalf("records = %v", recs)
	}
	rec := recs[0].(map[string]any)
	if rec["question"] != "天气" || rec["session_info"].(map[string]any)["name"] != "李雷" {
		t.Errorf("record = %v", rec)
	}
}

func TestCut(t *testing.T) {
	r := setupRouter(t)

	_, body := do(t, r, "POST", "/api/qa/cut", map[string]any{"text": "我要转账$12"})
	tokens := body["tokens"].([]any)
	if len(tokens) != 4 {
		t.Fatalf("tokens = %v", tokens)
	}
	if last := tokens[3].(map[string]any); last["word"] != "12" || last["pos"] != "m" {
		t.Errorf("last token = %v, want the raw numeral", last)
	}

	_, body = do(t, r, "POST", "/api/qa/cut", map[string]any{"text": "我要转账", "with_pos": false})
	if words := body["tokens"].([]any); len(words) != 2 || words[0] != "我要" || words[1] != "转账" {
		t.Errorf("words = %v", words)
	}
}

func TestMessages(t *testing.T) {
	r := setupRouter(t)

	w, body := do(t, r, "POST", "/api/messages", map[string]any{"user_id": 7, "msg": []string{"您的转账已到账"}})
	if w.Code != http.StatusOK {
		t.Fatalf("add message = %d %v", w.Code, body)
	}
	id := body["messages"].([]any)[0].(map[string]any)["id"].(float64)

	if w, _ := do(t, r, "POST", "/api/messages", map[string]any{"user_id": 7, "msg": "plain"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid message = %d", w.Code)
	}

	_, body = do(t, r, "GET", "/api/messages/7/count", nil)
	if body["count"] != float64(1) {
		t.Errorf("count = %v", body)
	}
	_, body = do(t, r, "GET", "/api/messages/7", nil)
	msgs := body["messages"].([]any)
	if len(msgs) != 1 || msgs[0].(map[string]any)["msg_type"] != "text" {
		t.Errorf("messages = %v", msgs)
	}

	path := "/api/messages/" + jsonNumber(id) + "/confirm"
	if w, _ := do(t, r, "POST", path, nil); w.Code != http.StatusOK {
		t.Errorf("confirm = %d", w.Code)
	}
	if w, _ := do(t, r, "POST", path, nil); w.Code != http.StatusNotFound {
		t.Errorf("second confirm = %d", w.Code)
	}
	_, body = do(t, r, "GET", "/api/messages/7", nil)
	if msgs := body["messages"].([]any); len(msgs) != 0 {
		t.Errorf("messages after confirm = %v", msgs)
	}
	_, body = do(t, r, "GET", "/api/messages/7/history", nil)
	if his := body["messages"].([]any); len(his) != 1 {
		t.Errorf("history = %v", his)
	}
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func TestWebSocketChat(t *testing.T) {
	srv := httptest.NewServer(setupRouter(t))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	roundTrip := func(req chatRequest) chatResponse {
		t.Helper()
		if err := conn.WriteJSON(req); err != nil {
			t.Fatalf("write: %v", err)
		}
		var resp chatResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read: %v", err)
		}
		return resp
	}

	created := roundTrip(chatRequest{Type: "session"})
	if created.Type != "session" || created.SessionID == "" {
		t.Fatalf("session = %+v", created)
	}

	answer := roundTrip(chatRequest{Type: "search", SessionID: created.SessionID, Question: "你好"})
	if answer.Type != "answer" || answer.Status != StatusOK || len(answer.Answers) != 1 || answer.Answers[0].Text != "你好，请问有什么可以帮您？" {
		t.Errorf("answer = %+v", answer)
	}

	missing := roundTrip(chatRequest{Type: "search", Question: "你好"})
	if missing.Type != "error" || missing.Status != StatusSessionRequired {
		t.Errorf("missing session = %+v", missing)
	}

	unknown := roundTrip(chatRequest{Type: "bogus"})
	if unknown.Type != "error" {
		t.Errorf("unknown type = %+v", unknown)
	}
}
