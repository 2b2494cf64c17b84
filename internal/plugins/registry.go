// Package plugins holds the handler registry used by job and ask answers
// and by intent check and info callbacks.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/snakeclub/chat-robot/internal/nlp"
	"github.com/snakeclub/chat-robot/internal/session"
)

// ErrNotRegistered is returned when a referenced handler does not exist.
var ErrNotRegistered = errors.New("handler not registered")

// Category groups handlers by the contract they implement.
type Category string

const (
	CategoryJob      Category = "job"
	CategoryAsk      Category = "ask"
	CategoryCheck    Category = "check"
	CategoryInfo     Category = "info"
	CategoryValidate Category = "validate"
)

// Ref names a handler plus its static parameters, as stored with answers
// and intent rules.
type Ref struct {
	Module string         `json:"module" yaml:"module"`
	Func   string         `json:"func" yaml:"func"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// IsZero reports whether the reference names no handler.
func (r Ref) IsZero() bool { return r.Module == "" && r.Func == "" }

func (r Ref) String() string { return r.Module + "." + r.Func }

// Target is the standard question a job was dispatched for.
type Target struct {
	StdQuestionID int64
	Collection    string
	Partition     string
	Question      string
}

// JobCall is passed to job handlers.
type JobCall struct {
	Question   string
	SessionID  string
	Sessions   session.Store
	Target     Target
	AnswerText string
	Params     map[string]any
}

// AskCall is passed to ask handlers with the user's reply to a guided
// dialogue.
type AskCall struct {
	Question      string
	SessionID     string
	ContextID     string
	Sessions      session.Store
	StdQuestionID int64
	Collection    string
	Partition     string
	Params        map[string]any
}

// IntentCall is passed to check and info callbacks.
type IntentCall struct {
	Question      string
	Tokens        []nlp.Token
	Action        string
	MatchWord     string
	MatchKind     string
	Collection    string
	Partition     string
	StdQuestionID int64
	Params        map[string]any
}

// ValidateCall is passed to validate handlers by call_check_fun.
type ValidateCall struct {
	Question string
	Ask      AskCall
	Params   map[string]any
}

type (
	JobHandler      func(ctx context.Context, call JobCall) (Verdict, error)
	AskHandler      func(ctx context.Context, call AskCall) (Verdict, error)
	CheckHandler    func(ctx context.Context, call IntentCall) (bool, error)
	InfoHandler     func(ctx context.Context, call IntentCall) (map[string]any, error)
	ValidateHandler func(ctx context.Context, call ValidateCall) (ok bool, tips any, err error)
)

type handlerKey struct {
	category Category
	module   string
	fn       string
}

// Registry maps (category, module, func) to handlers. Handlers are added by
// explicit Register calls at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[handlerKey]any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[handlerKey]any)}
}

func (r *Registry) register(c Category, module, fn string, h any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handlerKey{c, module, fn}] = h
}

// RegisterJob adds a job handler.
func (r *Registry) RegisterJob(module, fn string, h JobHandler) {
	r.register(CategoryJob, module, fn, h)
}

// RegisterAsk adds an ask handler.
func (r *Registry) RegisterAsk(module, fn string, h AskHandler) {
	r.register(CategoryAsk, module, fn, h)
}

// RegisterCheck adds an intent check callback.
func (r *Registry) RegisterCheck(module, fn string, h CheckHandler) {
	r.register(CategoryCheck, module, fn, h)
}

// RegisterInfo adds an intent info callback.
func (r *Registry) RegisterInfo(module, fn string, h InfoHandler) {
	r.register(CategoryInfo, module, fn, h)
}

// RegisterValidate adds a validator for call_check_fun.
func (r *Registry) RegisterValidate(module, fn string, h ValidateHandler) {
	r.register(CategoryValidate, module, fn, h)
}

func lookup[T any](r *Registry, c Category, module, fn string) (T, error) {
	r.mu.RLock()
	h, ok := r.handlers[handlerKey{c, module, fn}]
	r.mu.RUnlock()

	var zero T
	if !ok {
		return zero, fmt.Errorf("%s handler %s.%s: %w", c, module, fn, ErrNotRegistered)
	}
	typed, ok := h.(T)
	if !ok {
		return zero, fmt.Errorf("%s handler %s.%s has type %T", c, module, fn, h)
	}
	return typed, nil
}

func (r *Registry) Job(module, fn string) (JobHandler, error) {
	return lookup[JobHandler](r, CategoryJob, module, fn)
}

func (r *Registry) Ask(module, fn string) (AskHandler, error) {
	return lookup[AskHandler](r, CategoryAsk, module, fn)
}

func (r *Registry) Check(module, fn string) (CheckHandler, error) {
	return lookup[CheckHandler](r, CategoryCheck, module, fn)
}

func (r *Registry) Info(module, fn string) (InfoHandler, error) {
	return lookup[InfoHandler](r, CategoryInfo, module, fn)
}

func (r *Registry) Validate(module, fn string) (ValidateHandler, error) {
	return lookup[ValidateHandler](r, CategoryValidate, module, fn)
}

// Names lists the registered "module.func" names of a category, sorted.
func (r *Registry) Names(c Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for k := range r.handlers {
		if k.category == c {
			out = append(out, k.module+"."+k.fn)
		}
	}
	sort.Strings(out)
	return out
}
