package answers

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a question or answer does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMalformed is returned when a stored answer payload cannot be decoded.
	ErrMalformed = errors.New("malformed answer payload")
)

// QuestionType distinguishes ordinary questions from context-only ones.
type QuestionType string

const (
	QuestionAsk     QuestionType = "ask"
	QuestionContext QuestionType = "context"
)

// StdQuestion is a canonical question a user utterance resolves to.
type StdQuestion struct {
	ID         int64        `json:"id"`
	Tag        string       `json:"tag,omitempty"`
	Type       QuestionType `json:"q_type"`
	VectorID   int64        `json:"vector_id"`
	Collection string       `json:"collection"`
	Partition  string       `json:"partition,omitempty"`
	Question   string       `json:"question"`
	CreatedAt  time.Time    `json:"created_at"`
}

// ExtQuestion is an alternate phrasing of a standard question.
type ExtQuestion struct {
	ID            int64  `json:"id"`
	VectorID      int64  `json:"vector_id"`
	StdQuestionID int64  `json:"std_question_id"`
	Question      string `json:"question"`
}

// Kind is the answer type.
type Kind string

const (
	KindText    Kind = "text"
	KindJSON    Kind = "json"
	KindOptions Kind = "options"
	KindJob     Kind = "job"
	KindAsk     Kind = "ask"
)

// Payload is the decoded type_param of an answer: TextPayload,
// JSONPayload, OptionsPayload, JobPayload or AskPayload.
type Payload interface {
	Kind() Kind
}

type TextPayload struct{}

func (TextPayload) Kind() Kind { return KindText }

type JSONPayload struct{}

func (JSONPayload) Kind() Kind { return KindJSON }

// Option is one entry of an options answer. An empty Label means the
// target question's text.
type Option struct {
	StdQuestionID int64  `json:"std_question_id" yaml:"std_question_id"`
	Label         string `json:"label" yaml:"label"`
}

type OptionsPayload struct {
	Options []Option
}

func (OptionsPayload) Kind() Kind { return KindOptions }

// JobPayload names the job handler and its static parameters.
type JobPayload struct {
	Module string         `json:"module" yaml:"module"`
	Func   string         `json:"func" yaml:"func"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

func (JobPayload) Kind() Kind { return KindJob }

// AskPayload names the ask handler, the scope of the dialogue and whether
// the handler runs immediately on the opening turn.
type AskPayload struct {
	Module     string         `json:"module" yaml:"module"`
	Func       string         `json:"func" yaml:"func"`
	Collection string         `json:"collection,omitempty" yaml:"collection,omitempty"`
	Partition  string         `json:"partition,omitempty" yaml:"partition,omitempty"`
	Params     map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Immediate  bool           `json:"immediate,omitempty" yaml:"immediate,omitempty"`
}

func (AskPayload) Kind() Kind { return KindAsk }

// Answer is the single answer of a standard question.
type Answer struct {
	StdQuestionID int64
	Payload       Payload
	ReplacePreDef bool
	Text          string
}

// Kind returns the answer kind.
func (a *Answer) Kind() Kind { return a.Payload.Kind() }

// EncodePayload renders a payload as stored type_param JSON.
func EncodePayload(p Payload) (Kind, string, error) {
	var v any
	switch t := p.(type) {
	case TextPayload, JSONPayload:
		return t.Kind(), "", nil
	case OptionsPayload:
		v = t.Options
	case *OptionsPayload:
		v = t.Options
	case JobPayload, *JobPayload, AskPayload, *AskPayload:
		v = t
	default:
		return "", "", fmt.Errorf("unsupported payload %T", p)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", "", fmt.Errorf("encoding %s payload: %w", p.Kind(), err)
	}
	return p.Kind(), string(b), nil
}

// DecodePayload parses a stored type_param for kind.
func DecodePayload(kind Kind, typeParam string) (Payload, error) {
	switch kind {
	case KindText:
		return TextPayload{}, nil
	case KindJSON:
		return JSONPayload{}, nil
	case KindOptions:
		var opts []Option
		if err := json.Unmarshal([]byte(typeParam), &opts); err != nil {
			return nil, fmt.Errorf("%w: options: %v", ErrMalformed, err)
		}
		return OptionsPayload{Options: opts}, nil
	case KindJob:
		var job JobPayload
		if err := json.Unmarshal([]byte(typeParam), &job); err != nil {
			return nil, fmt.Errorf("%w: job: %v", ErrMalformed, err)
		}
		if job.Module == "" || job.Func == "" {
			return nil, fmt.Errorf("%w: job handler not named", ErrMalformed)
		}
		return job, nil
	case KindAsk:
		var ask AskPayload
		if err := json.Unmarshal([]byte(typeParam), &ask); err != nil {
			return nil, fmt.Errorf("%w: ask: %v", ErrMalformed, err)
		}
		if ask.Module == "" || ask.Func == "" {
			return nil, fmt.Errorf("%w: ask handler not named", ErrMalformed)
		}
		return ask, nil
	default:
		return nil, fmt.Errorf("%w: unknown answer kind %q", ErrMalformed, kind)
	}
}

// NoMatchRecord is a logged utterance nothing matched.
type NoMatchRecord struct {
	ID          int64          `json:"id"`
	SessionInfo map[string]any `json:"session_info"`
	Question    string         `json:"question"`
	CreatedAt   time.Time      `json:"create_time"`
}

// Collection is a QA collection with its search priority.
type Collection struct {
	Name   string `json:"collection" yaml:"collection"`
	Order  int    `json:"order_num" yaml:"order_num"`
	Remark string `json:"remark,omitempty" yaml:"remark,omitempty"`
}

// VectorEntry is one indexed text: a standard or extension question.
type VectorEntry struct {
	VectorID   int64
	Collection string
	Partition  string
	Text       string
}
