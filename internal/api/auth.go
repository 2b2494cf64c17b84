package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/snakeclub/chat-robot/internal/auth"
)

type claimsKey struct{}

// ClaimsFromContext returns the token claims of an authenticated request.
func ClaimsFromContext(ctx context.Context) (auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(auth.Claims)
	return c, ok
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	statusResponse
	UserID    int64  `json:"user_id"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: StatusError, Msg: "invalid request body"})
		return
	}
	token, claims, err := h.auth.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrUnknownUser), errors.Is(err, auth.ErrBadPassword):
		h.logger.Info("login rejected", "username", req.Username, "ip", clientIP(r), "reason", err)
		writeJSON(w, http.StatusUnauthorized, newStatus(StatusLoginFailed))
		return
	case err != nil:
		h.fail(w, "issuing token", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		statusResponse: newStatus(StatusOK),
		UserID:         claims.UserID,
		Token:          token,
		ExpiresAt:      claims.ExpiresAt,
	})
}

// handleRefreshToken swaps a valid token for a new one.
func (h *Handler) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	current, _ := ClaimsFromContext(r.Context())
	token, claims, err := h.auth.Issue(current.UserID)
	if err != nil {
		h.fail(w, "issuing token", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		statusResponse: newStatus(StatusOK),
		UserID:         claims.UserID,
		Token:          token,
		ExpiresAt:      claims.ExpiresAt,
	})
}

// requireToken accepts "Authorization: JWT <token>" or "Bearer <token>",
// and a token query parameter for websocket clients. A UserID header, when
// sent, must name the token's user.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.auth.Verify(requestToken(r))
		if err == nil {
			if uid := r.Header.Get("UserID"); uid != "" && uid != strconv.FormatInt(claims.UserID, 10) {
				err = auth.ErrInvalidToken
			}
		}
		if err != nil {
			h.logger.Debug("request rejected", "path", r.URL.Path, "ip", clientIP(r), "reason", err)
			w.Header().Set("WWW-Authenticate", `JWT realm="chat-robot"`)
			writeJSON(w, http.StatusUnauthorized, newStatus(StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && (strings.EqualFold(scheme, "JWT") || strings.EqualFold(scheme, "Bearer")) {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
