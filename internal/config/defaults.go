package config

import (
	"path/filepath"
	"time"
)

// DefaultConfigFile is the config path used when --config is not given.
const DefaultConfigFile = ".chatrobot.yml"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		Server: ServerConfig{
			Port: 8080,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Vector: VectorConfig{
			Persist: true,
		},
		Embedding: EmbeddingConfig{
			Provider:   EmbeddingOpenAI,
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Session: SessionConfig{
			Backend:       SessionMemory,
			IdleTimeout:   300 * time.Second,
			SweepInterval: time.Second,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "chat_robot",
		},
		NLP: NLPConfig{
			UseIntent: true,
		},
		QA: QAConfig{
			MatchDistance:             0.9,
			MultipleDistance:          0.8,
			MultipleInCollection:      3,
			NoAnswerVectorID:          -1,
			NoAnswerCollection:        "chat",
			NoAnswerStr:               "对不起，我暂时回答不了您这个问题",
			SelectOptionsTip:          "找到了多个匹配的问题，请输入序号选择您的题问:",
			SelectOptionsTipNoSession: "找到了多个匹配的问题, 请参照输入您的题问:",
			SelectOptionsOutIndex:     `请输入正确的问题序号(范围为: 1 - {$len$})，例如输入"1"`,
			MaxRedirects:              16,
			QuerySendMessageNum:       2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// AnswerDBPath returns the SQLite file backing the answer store.
func (c *Config) AnswerDBPath() string {
	if c.AnswerDB.Path != "" {
		return c.AnswerDB.Path
	}
	return filepath.Join(c.DataDir, "answers.db")
}

// VectorDir returns the directory the vector index is persisted to.
func (c *Config) VectorDir() string {
	return filepath.Join(c.DataDir, "vectordb")
}
