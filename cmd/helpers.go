package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/snakeclub/chat-robot/internal/answers"
	"github.com/snakeclub/chat-robot/internal/config"
	"github.com/snakeclub/chat-robot/internal/db"
	"github.com/snakeclub/chat-robot/internal/embeddings"
	"github.com/snakeclub/chat-robot/internal/intent"
	"github.com/snakeclub/chat-robot/internal/logging"
	"github.com/snakeclub/chat-robot/internal/nlp"
	"github.com/snakeclub/chat-robot/internal/plugins"
	"github.com/snakeclub/chat-robot/internal/progress"
	"github.com/snakeclub/chat-robot/internal/qa"
	"github.com/snakeclub/chat-robot/internal/seed"
	"github.com/snakeclub/chat-robot/internal/session"
	"github.com/snakeclub/chat-robot/internal/vectordb"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `chat-robot init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// createEmbedderFromConfig builds the embedder, reading the API key from
// the provider's environment variable.
func createEmbedderFromConfig(cfg *config.Config) (embeddings.Embedder, error) {
	var apiKey string
	if name := config.APIKeyEnvVar(cfg.Embedding.Provider); name != "" {
		apiKey = os.Getenv(name)
	}
	return embeddings.New(cfg.Embedding, apiKey)
}

// app holds the collaborators shared by the server, serve, chat, query and
// import commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *db.DB
	answers   *answers.Store
	index     *vectordb.ChromemIndex
	vectors   *vectordb.Adapter
	embedder  embeddings.Embedder
	sessions  session.Store
	segmenter *nlp.Segmenter // nil when intent matching is off
	engine    *qa.Engine
}

// openStore opens the answer database, the embedder and the vector index,
// which is all the import command needs.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	embedder, err := createEmbedderFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	database, err := db.Open(cfg.AnswerDBPath())
	if err != nil {
		return nil, err
	}
	store := answers.NewStore(database)
	index := vectordb.NewChromemIndex(embedder)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       database,
		answers:  store,
		index:    index,
		vectors:  vectordb.NewAdapter(index, store, logger),
		embedder: embedder,
	}

	if cfg.Vector.Persist {
		err := index.Load(ctx, cfg.VectorDir())
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug("no persisted vector index", "dir", cfg.VectorDir())
		case err != nil:
			logger.Warn("could not load vector index, rebuilding", "dir", cfg.VectorDir(), "error", err)
		}
	}
	return a, nil
}

// openApp opens everything a dialogue needs: the store, the session
// backend and an engine with its dictionaries loaded. An empty index is
// rebuilt from the answer database.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if a.index.Count() == 0 {
		n, err := a.importer(progress.NewReporter("indexing questions")).Reindex(ctx)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("building vector index: %w", err)
		}
		logger.Info("vector index rebuilt", "vectors", n)
	}

	a.sessions, err = newSessionStore(ctx, cfg, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	registry := plugins.NewRegistry()
	plugins.RegisterBuiltins(registry)
	logger.Debug("handlers registered",
		"job", registry.Names(plugins.CategoryJob),
		"ask", registry.Names(plugins.CategoryAsk),
		"check", registry.Names(plugins.CategoryCheck),
		"info", registry.Names(plugins.CategoryInfo),
		"validate", registry.Names(plugins.CategoryValidate))

	deps := qa.Deps{
		Answers:  a.answers,
		Vectors:  a.vectors,
		Embedder: a.embedder,
		Sessions: a.sessions,
		Registry: registry,
		Config:   cfg.QA,
		Logger:   logger,
	}
	if cfg.NLP.UseIntent {
		tok, err := nlp.NewGseTokenizer(cfg.NLP.UserDict)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.segmenter = nlp.NewSegmenter(tok, nil)
		deps.Segmenter = a.segmenter
		deps.Table = intent.NewTable()
		deps.Matcher = intent.NewMatcher(deps.Table, deps.Segmenter, registry)
	}

	a.engine = qa.New(deps)
	if err := a.engine.Reload(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) importer(reporter progress.Reporter) *seed.Importer {
	return seed.NewImporter(a.answers, a.index, a.embedder, reporter, a.logger)
}

// Close persists the vector index when configured and releases the
// session backend and the database.
func (a *app) Close(ctx context.Context) {
	if a.cfg.Vector.Persist && a.index.Count() > 0 {
		if err := a.index.Persist(ctx, a.cfg.VectorDir()); err != nil {
			a.logger.Error("persisting vector index", "dir", a.cfg.VectorDir(), "error", err)
		}
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			a.logger.Error("closing session store", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("closing database", "error", err)
	}
}

// newSessionStore returns the configured session backend.
func newSessionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (session.Store, error) {
	switch cfg.Session.Backend {
	case config.SessionRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		store, err := session.NewRedisStore(ctx, rdb, cfg.Redis.KeyPrefix, logger)
		if err != nil {
			rdb.Close()
			return nil, err
		}
		return store, nil
	default:
		return session.NewMemoryStore(), nil
	}
}

// newLogger builds the command logger on stderr.
func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(cfg.Log, os.Stderr)
}
