package plugins

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/snakeclub/chat-robot/internal/reply"
)

// Python-style regex flags accepted in [pattern, flags] pairs.
const (
	flagIgnoreCase = 2
	flagMultiline  = 8
	flagDotAll     = 16
)

// Int reads an integer parameter. JSON numbers arrive as float64.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// String reads a string parameter, with a fallback.
func String(params map[string]any, key, fallback string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return fallback
}

// Strings reads a string or a list of strings.
func Strings(v any) []string {
	switch s := v.(type) {
	case string:
		return []string{s}
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// Tips turns a tips parameter into text replies. A missing value gives nil
// so the caller falls back to the answer's own text.
func Tips(v any) []reply.Reply {
	ss := Strings(v)
	if ss == nil {
		return nil
	}
	return reply.Texts(ss...)
}

// Decode converts a loosely typed parameter into dst through JSON.
func Decode(v any, dst any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// Regexp compiles a pattern given as a string or as [pattern, flags].
func Regexp(v any) (*regexp.Regexp, error) {
	var pattern string
	var flags int64
	switch p := v.(type) {
	case string:
		pattern = p
	case []any:
		if len(p) == 0 {
			return nil, fmt.Errorf("empty regexp spec")
		}
		s, ok := p[0].(string)
		if !ok {
			return nil, fmt.Errorf("regexp pattern must be a string, got %T", p[0])
		}
		pattern = s
		if len(p) > 1 && p[1] != nil {
			flags, _ = Int(p[1])
		}
	default:
		return nil, fmt.Errorf("unsupported regexp spec %T", v)
	}

	var prefix strings.Builder
	if flags&flagIgnoreCase != 0 {
		prefix.WriteString("i")
	}
	if flags&flagMultiline != 0 {
		prefix.WriteString("m")
	}
	if flags&flagDotAll != 0 {
		prefix.WriteString("s")
	}
	if prefix.Len() > 0 {
		pattern = "(?" + prefix.String() + ")" + pattern
	}
	return regexp.Compile(pattern)
}

// findFirst mimics re.findall()[0]: the first group when the pattern has
// groups, otherwise the whole match.
func findFirst(re *regexp.Regexp, s string) (string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], true
	}
	return m[0], true
}

func conditions(params map[string]any) ([]map[string]any, error) {
	raw, ok := params["condition"]
	if !ok {
		return nil, nil
	}
	var out []map[string]any
	if err := Decode(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding condition list: %w", err)
	}
	return out, nil
}
