package qa

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/snakeclub/chat-robot/internal/reply"
)

// placeholderRe matches {$category=key$} tokens.
var placeholderRe = regexp.MustCompile(`\{\$.+?\$\}`)

// expand replaces every resolvable placeholder in s in a single pass.
// Unresolvable tokens are left as they are.
func (t *turn) expand(ctx context.Context, s string, enabled bool) string {
	if !enabled || !strings.Contains(s, "{$") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(tok string) string {
		if v, ok := t.lookup(ctx, tok[2:len(tok)-2]); ok {
			return v
		}
		return tok
	})
}

func (t *turn) lookup(ctx context.Context, ref string) (string, bool) {
	category, key, ok := strings.Cut(ref, "=")
	if !ok {
		return "", false
	}

	var (
		v     any
		found bool
		err   error
	)
	switch category {
	case "info":
		if t.sid == "" {
			return "", false
		}
		v, found, err = t.e.deps.Sessions.InfoValue(ctx, t.sid, key)
	case "cache":
		if t.sid == "" || t.contextID == "" {
			return "", false
		}
		v, found, err = t.e.deps.Sessions.CacheValue(ctx, t.sid, key, t.contextID)
	case "config":
		return t.e.cfg.Lookup(key)
	case "para":
		v, found = t.e.CommonParam(key)
	default:
		return "", false
	}
	if err != nil {
		t.e.logger.Debug("placeholder lookup failed", "placeholder", ref, "error", err)
		return "", false
	}
	if !found || v == nil {
		return "", false
	}
	return formatValue(v), true
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// expandValue substitutes placeholders in the string leaves of a decoded
// JSON value.
func (t *turn) expandValue(ctx context.Context, v any) any {
	switch x := v.(type) {
	case string:
		return t.expand(ctx, x, true)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = t.expandValue(ctx, item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = t.expandValue(ctx, item)
		}
		return out
	default:
		return v
	}
}

func (t *turn) expandReplies(ctx context.Context, replies []reply.Reply, enabled bool) []reply.Reply {
	if !enabled {
		return replies
	}
	out := make([]reply.Reply, len(replies))
	for i, r := range replies {
		switch r.Kind {
		case reply.KindText:
			r.Text = t.expand(ctx, r.Text, true)
		case reply.KindJSON:
			r.Data = t.expandValue(ctx, r.Data)
		case reply.KindOptions:
			if r.Menu != nil {
				m := *r.Menu
				m.Tips = t.expand(ctx, m.Tips, true)
				m.Options = append([]reply.Option(nil), m.Options...)
				for j := range m.Options {
					m.Options[j].Label = t.expand(ctx, m.Options[j].Label, true)
				}
				r.Menu = &m
			}
		}
		out[i] = r
	}
	return out
}
