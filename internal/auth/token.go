// Package auth issues and verifies the signed tokens that guard the QA
// routes. A token is base64url(claims JSON) "." base64url(HMAC-SHA256).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/snakeclub/chat-robot/internal/config"
)

var (
	ErrUnknownUser  = errors.New("unknown user")
	ErrBadPassword  = errors.New("wrong password")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the signed token payload.
type Claims struct {
	UserID    int64 `json:"uid"`
	ExpiresAt int64 `json:"exp"`
}

// Expiry returns the expiry as a time.
func (c Claims) Expiry() time.Time { return time.Unix(c.ExpiresAt, 0) }

// Issuer logs clients in and signs their tokens.
type Issuer struct {
	secret  []byte
	ttl     time.Duration
	clients map[string]config.AuthClient
	now     func() time.Time
}

// NewIssuer builds an Issuer from validated auth settings.
func NewIssuer(cfg config.AuthConfig) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("auth secret is empty")
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("auth token ttl must be positive")
	}
	clients := make(map[string]config.AuthClient, len(cfg.Clients))
	for _, c := range cfg.Clients {
		clients[c.Username] = c
	}
	return &Issuer{secret: []byte(cfg.Secret), ttl: cfg.TokenTTL, clients: clients, now: time.Now}, nil
}

// Login checks a client's credentials and issues a token for it.
func (i *Issuer) Login(username, password string) (string, Claims, error) {
	c, ok := i.clients[username]
	if !ok {
		return "", Claims{}, ErrUnknownUser
	}
	if subtle.ConstantTimeCompare([]byte(c.Password), []byte(password)) != 1 {
		return "", Claims{}, ErrBadPassword
	}
	return i.Issue(c.UserID)
}

// Issue signs a fresh token for userID.
func (i *Issuer) Issue(userID int64) (string, Claims, error) {
	claims := Claims{UserID: userID, ExpiresAt: i.now().Add(i.ttl).Unix()}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", Claims{}, fmt.Errorf("encoding claims: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + base64.RawURLEncoding.EncodeToString(i.sign(body)), claims, nil
}

// Verify checks the signature and expiry of token.
func (i *Issuer) Verify(token string) (Claims, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, i.sign(body)) {
		return Claims{}, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if !i.now().Before(claims.Expiry()) {
		return Claims{}, ErrTokenExpired
	}
	return claims, nil
}

func (i *Issuer) sign(body string) []byte {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}
