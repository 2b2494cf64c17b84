package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Session.Backend != SessionMemory {
		t.Errorf("expected default session backend %q, got %q", SessionMemory, cfg.Session.Backend)
	}
	if cfg.QA.MatchDistance != 0.9 {
		t.Errorf("expected default match_distance 0.9, got %v", cfg.QA.MatchDistance)
	}
	if cfg.QA.MultipleDistance != 0.8 {
		t.Errorf("expected default multiple_distance 0.8, got %v", cfg.QA.MultipleDistance)
	}
	if cfg.QA.MultipleInCollection != 3 {
		t.Errorf("expected default multiple_in_collection 3, got %d", cfg.QA.MultipleInCollection)
	}
	if cfg.QA.NoAnswerVectorID != -1 {
		t.Errorf("expected no-answer question disabled, got %d", cfg.QA.NoAnswerVectorID)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.chatrobot.yml")

	original := DefaultConfig()
	original.DataDir = "var/qa"
	original.Session.Backend = SessionRedis
	original.Session.IdleTimeout = 10 * time.Minute
	original.QA.MatchDistance = 0.95
	original.QA.Vars = map[string]string{"hotline": "95555"}

	if err := original.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("data_dir: got %q, want %q", loaded.DataDir, original.DataDir)
	}
	if loaded.Session.Backend != SessionRedis {
		t.Errorf("session.backend: got %q, want %q", loaded.Session.Backend, SessionRedis)
	}
	if loaded.Session.IdleTimeout != 10*time.Minute {
		t.Errorf("session.idle_timeout: got %v, want %v", loaded.Session.IdleTimeout, 10*time.Minute)
	}
	if loaded.QA.MatchDistance != 0.95 {
		t.Errorf("qa.match_distance: got %v, want 0.95", loaded.QA.MatchDistance)
	}
	if loaded.QA.Vars["hotline"] != "95555" {
		t.Errorf("qa.vars.hotline: got %q", loaded.QA.Vars["hotline"])
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "nonexistent.yml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yml")
	if err := os.WriteFile(path, []byte("qa:\n  match_distance: 0.7\n  multiple_distance: 0.5\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CHATROBOT_QA__MATCH_DISTANCE", "0.85")
	t.Setenv("CHATROBOT_DATA_DIR", "/srv/qa")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.QA.MatchDistance != 0.85 {
		t.Errorf("env override: got %v, want 0.85", cfg.QA.MatchDistance)
	}
	if cfg.QA.MultipleDistance != 0.5 {
		t.Errorf("file value: got %v, want 0.5", cfg.QA.MultipleDistance)
	}
	if cfg.DataDir != "/srv/qa" {
		t.Errorf("data_dir: got %q", cfg.DataDir)
	}
}

func TestLoadAuthClients(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yml")
	content := `auth:
  enabled: true
  token_ttl: 2h
  clients:
    - user_id: 7
      username: app
      password: pw
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHATROBOT_AUTH__SECRET", "0123456789abcdef-from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	a := cfg.Auth
	if !a.Enabled || a.TokenTTL != 2*time.Hour || a.Secret != "0123456789abcdef-from-env" {
		t.Errorf("auth = %+v", a)
	}
	if len(a.Clients) != 1 || a.Clients[0] != (AuthClient{UserID: 7, Username: "app", Password: "pw"}) {
		t.Errorf("clients = %+v", a.Clients)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad backend", func(c *Config) { c.Session.Backend = "etcd" }, true},
		{"bad provider", func(c *Config) { c.Embedding.Provider = "bert" }, true},
		{"multiple above match", func(c *Config) { c.QA.MultipleDistance = 0.95 }, true},
		{"zero redirects", func(c *Config) { c.QA.MaxRedirects = 0 }, true},
		{"redis without addr", func(c *Config) {
			c.Session.Backend = SessionRedis
			c.Redis.Addr = ""
		}, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"auth enabled", func(c *Config) { enableAuth(c) }, false},
		{"auth short secret", func(c *Config) {
			enableAuth(c)
			c.Auth.Secret = "short"
		}, true},
		{"auth without clients", func(c *Config) {
			enableAuth(c)
			c.Auth.Clients = nil
		}, true},
		{"auth duplicate client", func(c *Config) {
			enableAuth(c)
			c.Auth.Clients = append(c.Auth.Clients, c.Auth.Clients[0])
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func enableAuth(c *Config) {
	c.Auth.Enabled = true
	c.Auth.Secret = "0123456789abcdef0123"
	c.Auth.Clients = []AuthClient{{UserID: 1, Username: "app", Password: "pw"}}
}

func TestQALookup(t *testing.T) {
	q := DefaultConfig().QA
	q.Vars = map[string]string{"hotline": "95555", "no_answer_str": "override"}

	if v, ok := q.Lookup("hotline"); !ok || v != "95555" {
		t.Errorf("hotline: got %q, %v", v, ok)
	}
	if v, _ := q.Lookup("no_answer_str"); v != "override" {
		t.Errorf("vars should win over named settings, got %q", v)
	}
	if v, ok := q.Lookup("multiple_in_collection"); !ok || v != "3" {
		t.Errorf("multiple_in_collection: got %q, %v", v, ok)
	}
	if _, ok := q.Lookup("missing"); ok {
		t.Error("expected missing key to be unresolved")
	}
}

func TestValidatePort(t *testing.T) {
	if err := validatePort("8080"); err != nil {
		t.Errorf("8080: %v", err)
	}
	if err := validatePort("abc"); err == nil {
		t.Error("expected error for non-numeric port")
	}
	if err := validatePort("70000"); err == nil {
		t.Error("expected error for out of range port")
	}
}
