// Package reply defines the answer payloads returned for a dialogue turn.
package reply

import (
	"encoding/json"
	"strings"
)

// Kind identifies the shape of a reply.
type Kind string

const (
	KindText    Kind = "text"
	KindJSON    Kind = "json"
	KindOptions Kind = "options"
)

// Option is one numbered entry of a menu.
type Option struct {
	Label         string `json:"option_str"`
	StdQuestionID int64  `json:"std_question_id"`
	Index         int    `json:"index"`
}

// Menu is a numbered list of candidate questions awaiting a selection.
type Menu struct {
	Tips    string   `json:"tips"`
	Options []Option `json:"options"`
}

// Reply is a single answer payload. Exactly one of Text, Data or Menu is
// meaningful, according to Kind.
type Reply struct {
	Kind Kind   `json:"type"`
	Text string `json:"text,omitempty"`
	Data any    `json:"data,omitempty"`
	Menu *Menu  `json:"menu,omitempty"`
}

// Text builds a plain text reply.
func Text(s string) Reply { return Reply{Kind: KindText, Text: s} }

// Texts builds one text reply per string.
func Texts(ss ...string) []Reply {
	out := make([]Reply, 0, len(ss))
	for _, s := range ss {
		out = append(out, Text(s))
	}
	return out
}

// JSON builds a structured reply.
func JSON(v any) Reply { return Reply{Kind: KindJSON, Data: v} }

// Options builds a menu reply.
func Options(m Menu) Reply { return Reply{Kind: KindOptions, Menu: &m} }

// String renders the reply as console text.
func (r Reply) String() string {
	switch r.Kind {
	case KindJSON:
		b, err := json.Marshal(r.Data)
		if err != nil {
			return ""
		}
		return string(b)
	case KindOptions:
		if r.Menu == nil {
			return ""
		}
		return r.Menu.String()
	default:
		return r.Text
	}
}

// String renders the tips followed by one option per line.
func (m Menu) String() string {
	var sb strings.Builder
	sb.WriteString(m.Tips)
	for _, o := range m.Options {
		sb.WriteString("\n")
		sb.WriteString(o.Label)
	}
	return sb.String()
}
