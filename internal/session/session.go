// Package session keeps per-user dialogue state: user info, the active
// context, and the session and context caches.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/snakeclub/chat-robot/internal/reply"
)

// ErrNotFound is returned for an unknown or expired session id.
var ErrNotFound = errors.New("session not found")

// Part names one section of a session for Clear.
type Part string

const (
	PartInfo         Part = "info"
	PartContext      Part = "context"
	PartCache        Part = "cache"
	PartContextCache Part = "context_cache"
)

// Context is the in-progress multi-turn state of a session: nil, *Options
// or *Ask.
type Context interface {
	contextKind() string
}

// Options is a menu awaiting a numeric reply.
type Options struct {
	Tips    string         `json:"tips"`
	Options []reply.Option `json:"options"`
}

func (*Options) contextKind() string { return "options" }

// Menu returns the options as a reply menu.
func (o *Options) Menu() reply.Menu {
	return reply.Menu{Tips: o.Tips, Options: append([]reply.Option(nil), o.Options...)}
}

// Ask is a guided dialogue whose next reply goes to an ask handler.
type Ask struct {
	ContextID     string         `json:"context_id"`
	Module        string         `json:"module"`
	Func          string         `json:"func"`
	StdQuestionID int64          `json:"std_question_id"`
	Collection    string         `json:"collection"`
	Partition     string         `json:"partition"`
	Params        map[string]any `json:"params,omitempty"`
	ReplacePreDef bool           `json:"replace_pre_def"`
}

func (*Ask) contextKind() string { return "ask" }

// Store is implemented by the memory and redis backends. Every method is
// atomic on its own; methods on an unknown session return ErrNotFound,
// except Exists and Delete.
type Store interface {
	Create(ctx context.Context, info map[string]any) (string, error)
	Exists(ctx context.Context, id string) (bool, error)
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error

	Info(ctx context.Context, id string) (map[string]any, error)
	InfoValue(ctx context.Context, id, key string) (any, bool, error)
	UpdateInfo(ctx context.Context, id string, info map[string]any) error

	Context(ctx context.Context, id string) (Context, error)
	SetOptions(ctx context.Context, id string, opts Options) error
	// SetAsk replaces the context and returns the context id, generating
	// one when ask.ContextID is empty.
	SetAsk(ctx context.Context, id string, ask Ask) (string, error)
	ClearContext(ctx context.Context, id string) error
	Clear(ctx context.Context, id string, part Part) error

	// The cache methods address the session cache when contextID is empty
	// and the context cache otherwise. Writing under a context id other
	// than the current owner drops the previous context's cache.
	SetCache(ctx context.Context, id, key string, value any, contextID string) error
	UpdateCache(ctx context.Context, id string, values map[string]any, contextID string) error
	DeleteCache(ctx context.Context, id, key, contextID string) error
	CacheValue(ctx context.Context, id, key, contextID string) (any, bool, error)
	Cache(ctx context.Context, id, contextID string) (map[string]any, error)

	// Expired lists sessions last accessed before the given time.
	Expired(ctx context.Context, before time.Time) ([]string, error)
	Close() error
}

type contextEnvelope struct {
	Kind    string   `json:"kind"`
	Options *Options `json:"options,omitempty"`
	Ask     *Ask     `json:"ask,omitempty"`
}

func encodeContext(c Context) ([]byte, error) {
	env := contextEnvelope{Kind: c.contextKind()}
	switch v := c.(type) {
	case *Options:
		env.Options = v
	case *Ask:
		env.Ask = v
	}
	return json.Marshal(env)
}

func decodeContext(data []byte) (Context, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var env contextEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding session context: %w", err)
	}
	switch {
	case env.Kind == "options" && env.Options != nil:
		return env.Options, nil
	case env.Kind == "ask" && env.Ask != nil:
		return env.Ask, nil
	default:
		return nil, nil
	}
}

func encodeValue(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding session value: %w", err)
	}
	return b, nil
}

func decodeValue(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding session value: %w", err)
	}
	return v, nil
}

func decodeMap(m map[string][]byte) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, raw := range m {
		v, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
