// Package api exposes the dialogue engine, the session store and the
// message queue over REST and a websocket chat endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/snakeclub/chat-robot/internal/answers"
	"github.com/snakeclub/chat-robot/internal/auth"
	"github.com/snakeclub/chat-robot/internal/messages"
	"github.com/snakeclub/chat-robot/internal/nlp"
	"github.com/snakeclub/chat-robot/internal/qa"
	"github.com/snakeclub/chat-robot/internal/reply"
	"github.com/snakeclub/chat-robot/internal/session"
)

// Status codes carried in every response body.
const (
	StatusOK              = "00000"
	StatusMenu            = "00001"
	StatusNoMatch         = "10000"
	StatusSessionRequired = "10001"
	StatusSessionNotFound = "10002"
	StatusUnauthorized    = "10003"
	StatusLoginFailed     = "10004"
	StatusError           = "20001"
)

const requestTimeout = 60 * time.Second

var statusMsg = map[string]string{
	StatusOK:              "success",
	StatusMenu:            "select one of the options",
	StatusNoMatch:         "no matching question",
	StatusSessionRequired: "session id is required",
	StatusSessionNotFound: "session not found",
	StatusUnauthorized:    "missing or invalid token",
	StatusLoginFailed:     "username or password error",
	StatusError:           "internal error",
}

// NoMatchLog lists the utterances nothing matched.
type NoMatchLog interface {
	NoMatches(ctx context.Context, limit int) ([]answers.NoMatchRecord, error)
}

// Handler serves the API routes.
type Handler struct {
	engine    *qa.Engine
	sessions  session.Store
	queue     *messages.Queue
	noMatches NoMatchLog
	auth      *auth.Issuer
	seg       *nlp.Segmenter
	logger    *slog.Logger
}

// New returns a Handler. queue may be nil, which disables the message
// routes.
func New(engine *qa.Engine, sessions session.Store, queue *messages.Queue, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, sessions: sessions, queue: queue, logger: logger}
}

// WithNoMatchLog enables GET /api/qa/no-match.
func (h *Handler) WithNoMatchLog(l NoMatchLog) *Handler {
	h.noMatches = l
	return h
}

// WithAuth requires a token on the QA routes and the websocket, and
// enables POST /api/login.
func (h *Handler) WithAuth(i *auth.Issuer) *Handler {
	h.auth = i
	return h
}

// WithSegmenter enables POST /api/qa/cut.
func (h *Handler) WithSegmenter(seg *nlp.Segmenter) *Handler {
	h.seg = seg
	return h
}

// RegisterRoutes mounts the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	if h.auth != nil {
		r.Post("/api/login", h.handleLogin)
	}
	r.Route("/api/qa", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		if h.auth != nil {
			r.Use(h.requireToken)
			r.Get("/token", h.handleRefreshToken)
		}
		r.Post("/sessions", h.handleCreateSession)
		r.Get("/sessions/{id}", h.handleSessionExists)
		r.Post("/sessions/{id}/clear", h.handleClearSession)
		r.Get("/sessions/{id}/info", h.handleGetInfo)
		r.Put("/sessions/{id}/info", h.handleUpdateInfo)
		r.Delete("/sessions/{id}", h.handleDeleteSession)
		r.Post("/search", h.handleSearch)
		r.Post("/reload", h.handleReload)
		if h.noMatches != nil {
			r.Get("/no-match", h.handleNoMatches)
		}
		if h.seg != nil {
			r.Post("/cut", h.handleCut)
		}
	})
	if h.queue != nil {
		r.Route("/api/messages", func(r chi.Router) {
			r.Post("/", h.handleAddMessage)
			r.Get("/{id}", h.handleQueryMessages)
			r.Get("/{id}/count", h.handleCountMessages)
			r.Get("/{id}/history", h.handleMessageHistory)
			r.Post("/{id}/confirm", h.handleConfirmMessage)
		})
	}
	if h.auth != nil {
		r.With(h.requireToken).Get("/ws/chat", h.handleWebSocket)
	} else {
		r.Get("/ws/chat", h.handleWebSocket)
	}
}

type cutRequest struct {
	Text    string `json:"text"`
	WithPOS *bool  `json:"with_pos,omitempty"`
}

type cutResponse struct {
	statusResponse
	Tokens any `json:"tokens"`
}

// handleCut tokenizes text without intent matching. Tokens carry their
// part of speech unless with_pos is false.
func (h *Handler) handleCut(w http.ResponseWriter, r *http.Request) {
	var req cutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: StatusError, Msg: "invalid request body"})
		return
	}
	tokens := h.seg.CutSentence(req.Text)
	if tokens == nil {
		tokens = []nlp.Token{}
	}
	if req.WithPOS != nil && !*req.WithPOS {
		words := make([]string, len(tokens))
		for i, t := range tokens {
			words[i] = t.Word
		}
		writeJSON(w, http.StatusOK, cutResponse{statusResponse: newStatus(StatusOK), Tokens: words})
		return
	}
	writeJSON(w, http.StatusOK, cutResponse{statusResponse: newStatus(StatusOK), Tokens: tokens})
}

type statusResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

func newStatus(code string) statusResponse {
	return statusResponse{Status: code, Msg: statusMsg[code]}
}

type createSessionRequest struct {
	Info map[string]any `json:"info"`
}

type sessionResponse struct {
	statusResponse
	SessionID string `json:"session_id"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: StatusError, Msg: "invalid request body"})
		return
	}
	if req.Info == nil {
		req.Info = map[string]any{}
	}
	if _, ok := req.Info["ip"]; !ok {
		req.Info["ip"] = clientIP(r)
	}

	id, err := h.sessions.Create(r.Context(), req.Info)
	if err != nil {
		h.fail(w, "creating session", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{statusResponse: newStatus(StatusOK), SessionID: id})
}

type infoResponse struct {
	statusResponse
	Info map[string]any `json:"info"`
}

func (h *Handler) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.sessions.Info(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sessionError(w, "reading session info", err)
		return
	}
	writeJSON(w, http.StatusOK, infoResponse{statusResponse: newStatus(StatusOK), Info: info})
}

func (h *Handler) handleUpdateInfo(w http.ResponseWriter, r *http.Request) {
	var info map[string]any
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: StatusError, Msg: "invalid request body"})
		return
	}
	if err := h.sessions.UpdateInfo(r.Context(), chi.URLParam(r, "id"), info); err != nil {
		h.sessionError(w, "updating session info", err)
		return
	}
	writeJSON(w, http.StatusOK, newStatus(StatusOK))
}

type existsResponse struct {
	statusResponse
	Exists bool `json:"exists"`
}

func (h *Handler) handleSessionExists(w http.ResponseWriter, r *http.Request) {
	ok, err := h.sessions.Exists(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "checking session", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, existsResponse{statusResponse: newStatus(StatusSessionNotFound)})
		return
	}
	writeJSON(w, http.StatusOK, existsResponse{statusResponse: newStatus(StatusOK), Exists: true})
}

var clearableParts = map[session.Part]bool{
	session.PartInfo:         true,
	session.PartContext:      true,
	session.PartCache:        true,
	session.PartContextCache: true,
}

type clearRequest struct {
	Part session.Part `json:"part"`
}

func (h *Handler) handleClearSession(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !clearableParts[req.Part] {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: StatusError, Msg: "part must be one of info, context, cache, context_cache"})
		return
	}
	if err := h.sessions.Clear(r.Context(), chi.URLParam(r, "id"), req.Part); err != nil {
		h.sessionError(w, "clearing session", err)
		return
	}
	writeJSON(w, http.StatusOK, newStatus(StatusOK))
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "deleting session", err)
		return
	}
	writeJSON(w, http.StatusOK, newStatus(StatusOK))
}

type searchResponse struct {
	statusResponse
	Answers []reply.Reply `json:"answers"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req qa.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: StatusError, Msg: "invalid request body"})
		return
	}
	code, resp := h.search(r, req)
	writeJSON(w, code, resp)
}

// search runs one turn and maps the outcome to an HTTP code and a body.
func (h *Handler) search(r *http.Request, req qa.Request) (int, searchResponse) {
	if req.SessionID == "" {
		return http.StatusBadRequest, searchResponse{statusResponse: newStatus(StatusSessionRequired)}
	}
	res, err := h.engine.Search(r.Context(), req)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, searchResponse{statusResponse: newStatus(StatusSessionNotFound)}
	case errors.Is(err, qa.ErrSessionRequired):
		return http.StatusBadRequest, searchResponse{statusResponse: newStatus(StatusSessionRequired)}
	case err != nil:
		h.logger.Error("search failed", "session_id", req.SessionID, "question", req.Question, "error", err)
		return http.StatusInternalServerError, searchResponse{statusResponse: newStatus(StatusError)}
	}

	code := StatusOK
	switch res.Status {
	case qa.StatusMenu:
		code = StatusMenu
	case qa.StatusNoMatch:
		code = StatusNoMatch
	}
	return http.StatusOK, searchResponse{statusResponse: newStatus(code), Answers: res.Replies}
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reload(r.Context()); err != nil {
		h.fail(w, "reloading dictionaries", err)
		return
	}
	writeJSON(w, http.StatusOK, newStatus(StatusOK))
}

type noMatchResponse struct {
	statusResponse
	Records []answers.NoMatchRecord `json:"records"`
}

func (h *Handler) handleNoMatches(w http.ResponseWriter, r *http.Request) {
	recs, err := h.noMatches.NoMatches(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		h.fail(w, "listing unmatched questions", err)
		return
	}
	if recs == nil {
		recs = []answers.NoMatchRecord{}
	}
	writeJSON(w, http.StatusOK, noMatchResponse{statusResponse: newStatus(StatusOK), Records: recs})
}

type addMessageRequest struct {
	UserID       int64  `json:"user_id"`
	Msg          any    `json:"msg"`
	FromUserID   int64  `json:"from_user_id"`
	FromUserName string `json:"from_user_name"`
}

type messagesResponse struct {
	statusResponse
	Messages []messages.Message `json:"messages"`
}

type countResponse struct {
	statusResponse
	Count int `json:"count"`
}

func (h *Handler) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: StatusError, Msg: "invalid request body"})
		return
	}
	m, err := h.queue.Add(r.Context(), req.UserID, req.Msg, req.FromUserID, req.FromUserName)
	if errors.Is(err, messages.ErrInvalid) {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: StatusError, Msg: err.Error()})
		return
	}
	if err != nil {
		h.fail(w, "queueing message", err)
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{statusResponse: newStatus(StatusOK), Messages: []messages.Message{*m}})
}

func (h *Handler) handleQueryMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(w, r)
	if !ok {
		return
	}
	msgs, err := h.queue.Query(r.Context(), userID)
	if err != nil {
		h.fail(w, "querying messages", err)
		return
	}
	if msgs == nil {
		msgs = []messages.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{statusResponse: newStatus(StatusOK), Messages: msgs})
}

func (h *Handler) handleCountMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(w, r)
	if !ok {
		return
	}
	n, err := h.queue.Count(r.Context(), userID)
	if err != nil {
		h.fail(w, "counting messages", err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{statusResponse: newStatus(StatusOK), Count: n})
}

func (h *Handler) handleMessageHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(w, r)
	if !ok {
		return
	}
	msgs, err := h.queue.History(r.Context(), userID, queryInt(r, "limit", 20))
	if err != nil {
		h.fail(w, "reading message history", err)
		return
	}
	if msgs == nil {
		msgs = []messages.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{statusResponse: newStatus(StatusOK), Messages: msgs})
}

func (h *Handler) handleConfirmMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	err := h.queue.Confirm(r.Context(), id)
	if errors.Is(err, messages.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, statusResponse{Status: StatusError, Msg: err.Error()})
		return
	}
	if err != nil {
		h.fail(w, "confirming message", err)
		return
	}
	writeJSON(w, http.StatusOK, newStatus(StatusOK))
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: StatusError, Msg: "id must be an integer"})
		return 0, false
	}
	return id, true
}

// queryInt reads a positive integer query parameter.
func queryInt(r *http.Request, name string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (h *Handler) sessionError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, newStatus(StatusSessionNotFound))
		return
	}
	h.fail(w, op, err)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, "error", err)
	writeJSON(w, http.StatusInternalServerError, newStatus(StatusError))
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
