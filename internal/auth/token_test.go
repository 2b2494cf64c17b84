package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/snakeclub/chat-robot/internal/config"
)

func newIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer(config.AuthConfig{
		Secret:   "0123456789abcdef0123",
		TokenTTL: time.Hour,
		Clients:  []config.AuthClient{{UserID: 7, Username: "app", Password: "pw"}},
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return i
}

func TestLogin(t *testing.T) {
	i := newIssuer(t)

	token, claims, err := i.Login("app", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if claims.UserID != 7 {
		t.Errorf("claims = %+v", claims)
	}
	got, err := i.Verify(token)
	if err != nil || got != claims {
		t.Errorf("Verify = %+v, %v", got, err)
	}

	if _, _, err := i.Login("nobody", "pw"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("unknown user err = %v", err)
	}
	if _, _, err := i.Login("app", "wrong"); !errors.Is(err, ErrBadPassword) {
		t.Errorf("bad password err = %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	i := newIssuer(t)
	token, _, _ := i.Issue(7)
	body, _, _ := strings.Cut(token, ".")

	other, err := NewIssuer(config.AuthConfig{Secret: "another-secret-of-length", TokenTTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	forged, _, _ := other.Issue(7)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no signature", body},
		{"bad encoding", body + ".***"},
		{"other secret", forged},
		{"tampered body", "e30." + strings.SplitN(token, ".", 2)[1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := i.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	i := newIssuer(t)
	token, _, _ := i.Issue(7)

	i.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := i.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify err = %v, want ErrTokenExpired", err)
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer(config.AuthConfig{TokenTTL: time.Hour}); err == nil {
		t.Error("expected error for empty secret")
	}
}
