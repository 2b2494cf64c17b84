package config

import "time"

// SessionBackend selects where dialogue sessions are kept.
type SessionBackend string

const (
	SessionMemory SessionBackend = "memory"
	SessionRedis  SessionBackend = "redis"
)

// EmbeddingProvider identifies the service used to embed questions.
type EmbeddingProvider string

const (
	EmbeddingOpenAI EmbeddingProvider = "openai"
	EmbeddingOllama EmbeddingProvider = "ollama"
)

// Config is the top-level chatrobot configuration, corresponding to .chatrobot.yml.
type Config struct {
	DataDir   string          `yaml:"data_dir" koanf:"data_dir"`
	Server    ServerConfig    `yaml:"server" koanf:"server"`
	Auth      AuthConfig      `yaml:"auth" koanf:"auth"`
	AnswerDB  AnswerDBConfig  `yaml:"answer_db" koanf:"answer_db"`
	Vector    VectorConfig    `yaml:"vector" koanf:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding" koanf:"embedding"`
	Session   SessionConfig   `yaml:"session" koanf:"session"`
	Redis     RedisConfig     `yaml:"redis" koanf:"redis"`
	NLP       NLPConfig       `yaml:"nlp" koanf:"nlp"`
	QA        QAConfig        `yaml:"qa" koanf:"qa"`
	Log       LogConfig       `yaml:"log" koanf:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int  `yaml:"port" koanf:"port"`
	AllowAllOrigins bool `yaml:"allow_all_origins" koanf:"allow_all_origins"`
}

// AuthConfig guards the QA routes with signed tokens. The secret is
// usually supplied through CHATROBOT_AUTH__SECRET rather than the file.
type AuthConfig struct {
	Enabled  bool          `yaml:"enabled" koanf:"enabled"`
	Secret   string        `yaml:"secret,omitempty" koanf:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl" koanf:"token_ttl"`
	Clients  []AuthClient  `yaml:"clients" koanf:"clients"`
}

// AuthClient is an API client allowed to log in.
type AuthClient struct {
	UserID   int64  `yaml:"user_id" koanf:"user_id"`
	Username string `yaml:"username" koanf:"username"`
	Password string `yaml:"password" koanf:"password"`
}

// AnswerDBConfig locates the SQLite answer store. An empty path means
// <data_dir>/answers.db.
type AnswerDBConfig struct {
	Path string `yaml:"path" koanf:"path"`
}

// VectorConfig controls the nearest-neighbour index.
type VectorConfig struct {
	Persist bool `yaml:"persist" koanf:"persist"`
}

// EmbeddingConfig selects the embedding service.
type EmbeddingConfig struct {
	Provider   EmbeddingProvider `yaml:"provider" koanf:"provider"`
	Model      string            `yaml:"model" koanf:"model"`
	Dimensions int               `yaml:"dimensions" koanf:"dimensions"`
	BaseURL    string            `yaml:"base_url" koanf:"base_url"`
}

// SessionConfig controls session storage and idle eviction.
type SessionConfig struct {
	Backend       SessionBackend `yaml:"backend" koanf:"backend"`
	IdleTimeout   time.Duration  `yaml:"idle_timeout" koanf:"idle_timeout"`
	SweepInterval time.Duration  `yaml:"sweep_interval" koanf:"sweep_interval"`
}

// RedisConfig is used when the session backend is redis.
type RedisConfig struct {
	Addr      string `yaml:"addr" koanf:"addr"`
	Password  string `yaml:"password" koanf:"password"`
	DB        int    `yaml:"db" koanf:"db"`
	PoolSize  int    `yaml:"pool_size" koanf:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" koanf:"key_prefix"`
}

// NLPConfig controls the tokenizer and intent matching.
type NLPConfig struct {
	UseIntent bool   `yaml:"use_intent" koanf:"use_intent"`
	UserDict  string `yaml:"user_dict" koanf:"user_dict"`
}

// QAConfig holds the resolution thresholds and the canned messages.
type QAConfig struct {
	MatchDistance             float64           `yaml:"match_distance" koanf:"match_distance"`
	MultipleDistance          float64           `yaml:"multiple_distance" koanf:"multiple_distance"`
	MultipleInCollection      int               `yaml:"multiple_in_collection" koanf:"multiple_in_collection"`
	NoAnswerVectorID          int64             `yaml:"no_answer_vector_id" koanf:"no_answer_vector_id"`
	NoAnswerCollection        string            `yaml:"no_answer_collection" koanf:"no_answer_collection"`
	NoAnswerStr               string            `yaml:"no_answer_str" koanf:"no_answer_str"`
	SelectOptionsTip          string            `yaml:"select_options_tip" koanf:"select_options_tip"`
	SelectOptionsTipNoSession string            `yaml:"select_options_tip_no_session" koanf:"select_options_tip_no_session"`
	SelectOptionsOutIndex     string            `yaml:"select_options_out_index" koanf:"select_options_out_index"`
	MaxRedirects              int               `yaml:"max_redirects" koanf:"max_redirects"`
	QuerySendMessageNum       int               `yaml:"query_send_message_num" koanf:"query_send_message_num"`
	Vars                      map[string]string `yaml:"vars" koanf:"vars"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"`
}
