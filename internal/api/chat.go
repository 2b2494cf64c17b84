package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/snakeclub/chat-robot/internal/qa"
	"github.com/snakeclub/chat-robot/internal/reply"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// chatRequest is the incoming websocket message format.
type chatRequest struct {
	Type       string         `json:"type"` // "session" or "search"
	SessionID  string         `json:"session_id"`
	Question   string         `json:"question"`
	Collection string         `json:"collection,omitempty"`
	Info       map[string]any `json:"info,omitempty"`
}

// chatResponse is the outgoing websocket message format.
type chatResponse struct {
	Type      string        `json:"type"` // "session", "answer" or "error"
	Status    string        `json:"status"`
	Msg       string        `json:"msg"`
	SessionID string        `json:"session_id,omitempty"`
	Answers   []reply.Reply `json:"answers,omitempty"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read", "error", err)
			}
			return
		}

		var req chatRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			h.send(conn, chatResponse{Type: "error", Status: StatusError, Msg: "invalid message format"})
			continue
		}

		switch req.Type {
		case "session":
			h.chatSession(conn, r, req)
		case "search":
			h.chatSearch(conn, r, req)
		default:
			h.send(conn, chatResponse{Type: "error", Status: StatusError, SessionID: req.SessionID, Msg: "unknown message type: " + req.Type})
		}
	}
}

func (h *Handler) chatSession(conn *websocket.Conn, r *http.Request, req chatRequest) {
	info := req.Info
	if info == nil {
		info = map[string]any{}
	}
	if _, ok := info["ip"]; !ok {
		info["ip"] = clientIP(r)
	}
	id, err := h.sessions.Create(r.Context(), info)
	if err != nil {
		h.logger.Error("creating session", "error", err)
		h.send(conn, chatResponse{Type: "error", Status: StatusError, Msg: statusMsg[StatusError]})
		return
	}
	h.send(conn, chatResponse{Type: "session", Status: StatusOK, Msg: statusMsg[StatusOK], SessionID: id})
}

func (h *Handler) chatSearch(conn *websocket.Conn, r *http.Request, req chatRequest) {
	_, resp := h.search(r, qa.Request{SessionID: req.SessionID, Question: req.Question, Collection: req.Collection})
	kind := "answer"
	switch resp.Status {
	case StatusSessionRequired, StatusSessionNotFound, StatusError:
		kind = "error"
	}
	h.send(conn, chatResponse{
		Type:      kind,
		Status:    resp.Status,
		Msg:       resp.Msg,
		SessionID: req.SessionID,
		Answers:   resp.Answers,
	})
}

func (h *Handler) send(conn *websocket.Conn, resp chatResponse) {
	if err := conn.WriteJSON(resp); err != nil {
		h.logger.Warn("websocket write", "error", err)
	}
}
