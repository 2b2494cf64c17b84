// Package qa resolves a dialogue turn to answers. A turn runs through the
// session context, intent matching and vector search, then dispatches the
// matched standard question by its answer kind.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/snakeclub/chat-robot/internal/answers"
	"github.com/snakeclub/chat-robot/internal/config"
	"github.com/snakeclub/chat-robot/internal/embeddings"
	"github.com/snakeclub/chat-robot/internal/intent"
	"github.com/snakeclub/chat-robot/internal/nlp"
	"github.com/snakeclub/chat-robot/internal/plugins"
	"github.com/snakeclub/chat-robot/internal/reply"
	"github.com/snakeclub/chat-robot/internal/session"
	"github.com/snakeclub/chat-robot/internal/vectordb"
)

var (
	// ErrRedirectLoop is returned when a turn is redirected more than
	// max_redirects times.
	ErrRedirectLoop = errors.New("too many answer redirects")
	// ErrSessionRequired is returned when an answer needs session state
	// and the turn has no session.
	ErrSessionRequired = errors.New("session id is required")
)

// AmountSignsParam is the common parameter holding the currency signs the
// tokenizer merges with amounts.
const AmountSignsParam = "amount_sign_list"

// AnswerStore is the part of the answer database the engine reads.
type AnswerStore interface {
	StdQuestion(ctx context.Context, id int64) (*answers.StdQuestion, error)
	StdQuestionByTag(ctx context.Context, tag, collection string) (*answers.StdQuestion, error)
	StdQuestionByVector(ctx context.Context, vectorID int64, collection, partition string) (*answers.StdQuestion, error)
	Answer(ctx context.Context, stdQuestionID int64) (*answers.Answer, error)
	LogNoMatch(ctx context.Context, sessionInfo map[string]any, question string) error
	Collections(ctx context.Context) ([]answers.Collection, error)

	IntentRules(ctx context.Context) ([]intent.Rule, error)
	PolarityWords(ctx context.Context) ([]intent.PolarityWord, error)
	CommonParams(ctx context.Context) (map[string]any, error)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Answers  AnswerStore
	Vectors  *vectordb.Adapter
	Embedder embeddings.Embedder
	Sessions session.Store
	Registry *plugins.Registry

	// Matcher is nil when intent matching is disabled.
	Matcher   *intent.Matcher
	Table     *intent.Table
	Segmenter *nlp.Segmenter

	Config config.QAConfig
	Logger *slog.Logger
}

// Status is the outcome of a turn.
type Status string

const (
	// StatusAnswer means a single answer was produced.
	StatusAnswer Status = "answer"
	// StatusMenu means the replies hold a menu to choose from.
	StatusMenu Status = "menu"
	// StatusNoMatch means nothing matched and the fallback answer was used.
	StatusNoMatch Status = "no_match"
)

// Request is one dialogue turn.
type Request struct {
	SessionID  string `json:"session_id"`
	Question   string `json:"question"`
	Collection string `json:"collection,omitempty"`
	// StdQuestionID and Tag select a standard question directly and skip
	// matching.
	StdQuestionID int64  `json:"std_question_id,omitempty"`
	Tag           string `json:"std_question_tag,omitempty"`
}

// Result holds the replies of a turn.
type Result struct {
	Status  Status        `json:"status"`
	Replies []reply.Reply `json:"answers"`
}

// Engine is the conversation resolution core. It is safe for concurrent
// use; per-session consistency comes from the session store.
type Engine struct {
	deps   Deps
	cfg    config.QAConfig
	logger *slog.Logger
	params atomic.Pointer[map[string]any]
}

// New returns an Engine. Call Reload to load the dictionaries.
func New(deps Deps) *Engine {
	cfg := deps.Config
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = config.DefaultConfig().QA.MaxRedirects
	}
	if cfg.MultipleInCollection <= 0 {
		cfg.MultipleInCollection = 1
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{deps: deps, cfg: cfg, logger: logger}
	empty := map[string]any{}
	e.params.Store(&empty)
	return e
}

// Reload reads the intent rules, the polarity table and the common params
// from the answer store and swaps them in.
func (e *Engine) Reload(ctx context.Context) error {
	rules, err := e.deps.Answers.IntentRules(ctx)
	if err != nil {
		return fmt.Errorf("loading intent rules: %w", err)
	}
	words, err := e.deps.Answers.PolarityWords(ctx)
	if err != nil {
		return fmt.Errorf("loading polarity words: %w", err)
	}
	params, err := e.deps.Answers.CommonParams(ctx)
	if err != nil {
		return fmt.Errorf("loading common params: %w", err)
	}

	if e.deps.Table != nil {
		e.deps.Table.Reload(rules, words)
	}
	if e.deps.Segmenter != nil {
		if signs, ok := params[AmountSignsParam]; ok {
			e.deps.Segmenter.SetAmountSigns(plugins.Strings(signs))
		}
	}
	e.params.Store(&params)

	e.logger.Info("dictionaries reloaded", "intent_rules", len(rules), "polarity_words", len(words), "common_params", len(params))
	return nil
}

// CommonParam returns a common parameter loaded by Reload.
func (e *Engine) CommonParam(name string) (any, bool) {
	v, ok := (*e.params.Load())[name]
	return v, ok
}

// Search resolves one turn. An empty SessionID runs the turn without
// session state; an unknown one returns session.ErrNotFound.
func (e *Engine) Search(ctx context.Context, req Request) (*Result, error) {
	t := &turn{
		e:          e,
		sid:        req.SessionID,
		question:   strings.TrimSpace(req.Question),
		collection: req.Collection,
	}

	if t.sid != "" {
		if err := e.deps.Sessions.Touch(ctx, t.sid); err != nil {
			return nil, fmt.Errorf("session %s: %w", t.sid, err)
		}
		cur, err := e.deps.Sessions.Context(ctx, t.sid)
		if err != nil {
			return nil, err
		}
		if ask, ok := cur.(*session.Ask); ok {
			t.contextID = ask.ContextID
		}
	}

	switch {
	case req.StdQuestionID != 0:
		q, err := t.stdQuestion(ctx, req.StdQuestionID)
		if err != nil {
			return nil, err
		}
		return t.run(ctx, dispatchStep(q))
	case req.Tag != "":
		q, err := e.deps.Answers.StdQuestionByTag(ctx, req.Tag, req.Collection)
		if err != nil {
			return nil, err
		}
		return t.run(ctx, dispatchStep(q))
	default:
		return t.run(ctx, step{kind: stepContext})
	}
}
