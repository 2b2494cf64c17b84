package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const envPrefix = "CHATROBOT_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (CHATROBOT_*). A double underscore
// separates nested keys: CHATROBOT_QA__MATCH_DISTANCE -> qa.match_distance.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validSessionBackends = map[SessionBackend]bool{
	SessionMemory: true,
	SessionRedis:  true,
}

var validEmbeddingProviders = map[EmbeddingProvider]bool{
	EmbeddingOpenAI: true,
	EmbeddingOllama: true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	if !validEmbeddingProviders[c.Embedding.Provider] {
		return fmt.Errorf("invalid embedding.provider %q: must be one of openai, ollama", c.Embedding.Provider)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}

	if !validSessionBackends[c.Session.Backend] {
		return fmt.Errorf("invalid session.backend %q: must be one of memory, redis", c.Session.Backend)
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be positive")
	}
	if c.Session.Backend == SessionRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when session.backend is redis")
	}

	q := c.QA
	if q.MatchDistance <= 0 || q.MatchDistance > 1 {
		return fmt.Errorf("qa.match_distance must be in (0, 1]")
	}
	if q.MultipleDistance <= 0 || q.MultipleDistance > q.MatchDistance {
		return fmt.Errorf("qa.multiple_distance must be in (0, match_distance]")
	}
	if q.MultipleInCollection < 1 {
		return fmt.Errorf("qa.multiple_in_collection must be at least 1")
	}
	if q.MaxRedirects < 1 {
		return fmt.Errorf("qa.max_redirects must be at least 1")
	}
	if q.QuerySendMessageNum < 1 {
		return fmt.Errorf("qa.query_send_message_num must be at least 1")
	}

	if c.Log.Format != "" && !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log.format %q: must be one of text, json", c.Log.Format)
	}

	return nil
}

// Lookup resolves a {$config=key$} placeholder. Free-form qa.vars win over
// the named settings.
func (q QAConfig) Lookup(key string) (string, bool) {
	if v, ok := q.Vars[key]; ok {
		return v, true
	}
	switch key {
	case "match_distance":
		return strconv.FormatFloat(q.MatchDistance, 'f', -1, 64), true
	case "multiple_distance":
		return strconv.FormatFloat(q.MultipleDistance, 'f', -1, 64), true
	case "multiple_in_collection":
		return strconv.Itoa(q.MultipleInCollection), true
	case "no_answer_collection":
		return q.NoAnswerCollection, true
	case "no_answer_str":
		return q.NoAnswerStr, true
	case "select_options_tip":
		return q.SelectOptionsTip, true
	case "select_options_tip_no_session":
		return q.SelectOptionsTipNoSession, true
	case "query_send_message_num":
		return strconv.Itoa(q.QuerySendMessageNum), true
	}
	return "", false
}

// APIKeyEnvVar returns the environment variable holding the API key of the
// given embedding provider.
func APIKeyEnvVar(provider EmbeddingProvider) string {
	switch provider {
	case EmbeddingOpenAI:
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}

// minSecretLen is the shortest accepted token signing secret, in bytes.
const minSecretLen = 16

func (a AuthConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	if len(a.Secret) < minSecretLen {
		return fmt.Errorf("auth.secret must be at least %d bytes when auth is enabled", minSecretLen)
	}
	if a.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if len(a.Clients) == 0 {
		return fmt.Errorf("auth.clients must list at least one client when auth is enabled")
	}
	seen := make(map[string]bool, len(a.Clients))
	for _, c := range a.Clients {
		if c.Username == "" || c.Password == "" {
			return fmt.Errorf("auth.clients entries need a username and a password")
		}
		if seen[c.Username] {
			return fmt.Errorf("auth.clients: duplicate username %q", c.Username)
		}
		seen[c.Username] = true
	}
	return nil
}
