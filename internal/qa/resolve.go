package qa

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/snakeclub/chat-robot/internal/answers"
	"github.com/snakeclub/chat-robot/internal/embeddings"
	"github.com/snakeclub/chat-robot/internal/intent"
	"github.com/snakeclub/chat-robot/internal/plugins"
	"github.com/snakeclub/chat-robot/internal/reply"
	"github.com/snakeclub/chat-robot/internal/session"
)

type stepKind int

const (
	// stepContext consults the session context first.
	stepContext stepKind = iota
	// stepMatch runs intent matching, then vector search.
	stepMatch
	// stepDispatch answers the matched questions.
	stepDispatch
)

type step struct {
	kind      stepKind
	questions []*answers.StdQuestion
}

func dispatchStep(qs ...*answers.StdQuestion) step {
	return step{kind: stepDispatch, questions: qs}
}

// turn is the state of one Search call.
type turn struct {
	e          *Engine
	sid        string
	question   string
	collection string
	partition  string
	contextID  string

	// matched is the intent hit whose info flows into job and ask params.
	matched   *intent.Match
	noMatch   bool
	redirects int
}

// run drives the steps of a turn until one produces a result. Steps that
// follow a dispatch are redirects and are bounded by max_redirects.
func (t *turn) run(ctx context.Context, next step) (*Result, error) {
	for {
		var (
			res  *Result
			then *step
			err  error
		)
		switch next.kind {
		case stepContext:
			res, then, err = t.resolveContext(ctx)
		case stepMatch:
			then, err = t.match(ctx)
		case stepDispatch:
			res, then, err = t.dispatch(ctx, next.questions)
			if err == nil && then != nil {
				t.redirects++
				if t.redirects > t.e.cfg.MaxRedirects {
					return nil, fmt.Errorf("%w: more than %d", ErrRedirectLoop, t.e.cfg.MaxRedirects)
				}
			}
		}
		if err != nil {
			return nil, err
		}
		if res != nil {
			if t.noMatch && res.Status == StatusAnswer {
				res.Status = StatusNoMatch
			}
			return res, nil
		}
		if then == nil {
			return nil, fmt.Errorf("turn stalled at step %d", next.kind)
		}
		next = *then
	}
}

// resolveContext handles a pending options menu or ask dialogue.
func (t *turn) resolveContext(ctx context.Context) (*Result, *step, error) {
	matchStep := &step{kind: stepMatch}
	if t.sid == "" {
		return nil, matchStep, nil
	}
	cur, err := t.e.deps.Sessions.Context(ctx, t.sid)
	if err != nil {
		return nil, nil, err
	}

	switch c := cur.(type) {
	case *session.Options:
		if !isDigits(t.question) {
			if err := t.e.deps.Sessions.ClearContext(ctx, t.sid); err != nil {
				return nil, nil, err
			}
			return nil, matchStep, nil
		}
		idx, err := strconv.Atoi(asciiDigits(t.question))
		if err != nil || idx < 1 || idx > len(c.Options) {
			menu := c.Menu()
			tips := replaceLen(t.e.cfg.SelectOptionsOutIndex, len(c.Options))
			menu.Tips = t.expand(ctx, tips, true)
			return &Result{Status: StatusMenu, Replies: []reply.Reply{reply.Options(menu)}}, nil, nil
		}
		q, err := t.stdQuestion(ctx, c.Options[idx-1].StdQuestionID)
		if err != nil {
			return nil, nil, err
		}
		if err := t.e.deps.Sessions.ClearContext(ctx, t.sid); err != nil {
			return nil, nil, err
		}
		next := dispatchStep(q)
		return nil, &next, nil
	case *session.Ask:
		return t.continueAsk(ctx, c)
	default:
		return nil, matchStep, nil
	}
}

// continueAsk passes the utterance to the handler of an ask dialogue and
// acts on its verdict.
func (t *turn) continueAsk(ctx context.Context, ask *session.Ask) (*Result, *step, error) {
	h, err := t.e.deps.Registry.Ask(ask.Module, ask.Func)
	if err != nil {
		return nil, nil, fmt.Errorf("ask dialogue of question %d: %w", ask.StdQuestionID, err)
	}
	t.contextID = ask.ContextID
	v, err := h(ctx, plugins.AskCall{
		Question:      t.question,
		SessionID:     t.sid,
		ContextID:     ask.ContextID,
		Sessions:      t.e.deps.Sessions,
		StdQuestionID: ask.StdQuestionID,
		Collection:    ask.Collection,
		Partition:     ask.Partition,
		Params:        ask.Params,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ask handler %s.%s: %w", ask.Module, ask.Func, err)
	}

	switch v.Verb {
	case plugins.VerbAnswer:
		replies, err := t.verdictReplies(ctx, v, ask.StdQuestionID, ask.ReplacePreDef)
		if err != nil {
			return nil, nil, err
		}
		if err := t.clearContext(ctx); err != nil {
			return nil, nil, err
		}
		return &Result{Status: StatusAnswer, Replies: replies}, nil, nil
	case plugins.VerbTo:
		q, err := t.stdQuestion(ctx, v.StdQuestionID)
		if err != nil {
			return nil, nil, err
		}
		if err := t.clearContext(ctx); err != nil {
			return nil, nil, err
		}
		next := dispatchStep(q)
		return nil, &next, nil
	case plugins.VerbBreak:
		if err := t.clearContext(ctx); err != nil {
			return nil, nil, err
		}
		if v.Collection != "" {
			t.collection = v.Collection
		}
		if v.Partition != "" {
			t.partition = v.Partition
		}
		return nil, &step{kind: stepMatch}, nil
	default:
		replies, err := t.verdictReplies(ctx, v, ask.StdQuestionID, ask.ReplacePreDef)
		if err != nil {
			return nil, nil, err
		}
		return &Result{Status: StatusAnswer, Replies: replies}, nil, nil
	}
}

func (t *turn) clearContext(ctx context.Context) error {
	t.contextID = ""
	return t.e.deps.Sessions.ClearContext(ctx, t.sid)
}

// verdictReplies returns the handler's replies, or the literal answer text
// of stdQuestionID when it gave none, with placeholders expanded.
func (t *turn) verdictReplies(ctx context.Context, v plugins.Verdict, stdQuestionID int64, replace bool) ([]reply.Reply, error) {
	replies := v.Replies
	if replies == nil {
		a, err := t.e.deps.Answers.Answer(ctx, stdQuestionID)
		if err != nil {
			return nil, err
		}
		replies = []reply.Reply{reply.Text(a.Text)}
	}
	return t.expandReplies(ctx, replies, replace), nil
}

// match runs intent matching and falls back to vector search.
func (t *turn) match(ctx context.Context) (*step, error) {
	if m := t.e.deps.Matcher; m != nil {
		hits, err := m.Analyse(ctx, t.question, intent.ScopesFor(t.collection, t.partition), false)
		if err != nil {
			return nil, fmt.Errorf("intent analysis: %w", err)
		}
		if len(hits) > 0 {
			hit := hits[0]
			q, err := t.stdQuestion(ctx, hit.StdQuestionID)
			if err != nil {
				return nil, fmt.Errorf("intent %s: %w", hit.Action, err)
			}
			t.matched = &hit
			if hit.TargetCollection != "" {
				t.collection = hit.TargetCollection
				t.partition = hit.TargetPartition
			}
			next := dispatchStep(q)
			return &next, nil
		}
	}

	qs, err := t.vectorMatch(ctx)
	if err != nil {
		return nil, err
	}
	next := dispatchStep(qs...)
	return &next, nil
}

// vectorMatch embeds the utterance and searches either the requested
// scope, keeping the top hit, or every collection in priority order,
// stopping at the first best match.
func (t *turn) vectorMatch(ctx context.Context) ([]*answers.StdQuestion, error) {
	if t.question == "" || t.e.deps.Vectors == nil {
		return nil, nil
	}
	vec, err := embeddings.EmbedOne(ctx, t.e.deps.Embedder, t.question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	if t.collection != "" || t.partition != "" {
		coll := t.collection
		if coll == "" {
			cols, err := t.collections(ctx)
			if err != nil || len(cols) == 0 {
				return nil, err
			}
			coll = cols[0]
		}
		best, found, err := t.scanCollection(ctx, coll, t.partition, vec)
		if err != nil {
			return nil, err
		}
		if best != nil {
			return []*answers.StdQuestion{best}, nil
		}
		if len(found) > 0 {
			return found[:1], nil
		}
		return nil, nil
	}

	cols, err := t.collections(ctx)
	if err != nil {
		return nil, err
	}
	var found []*answers.StdQuestion
	for _, coll := range cols {
		best, more, err := t.scanCollection(ctx, coll, "", vec)
		if err != nil {
			return nil, err
		}
		if best != nil {
			return []*answers.StdQuestion{best}, nil
		}
		found = append(found, more...)
	}
	return found, nil
}

// scanCollection returns the best match of a collection, or the distinct
// questions at or above multiple_distance.
func (t *turn) scanCollection(ctx context.Context, collection, partition string, vec []float32) (*answers.StdQuestion, []*answers.StdQuestion, error) {
	cands, err := t.e.deps.Vectors.Candidates(ctx, collection, partition, vec, t.e.cfg.MultipleInCollection)
	if err != nil {
		return nil, nil, fmt.Errorf("searching %s: %w", collection, err)
	}
	var (
		found []*answers.StdQuestion
		seen  = make(map[int64]bool)
	)
	for _, c := range cands {
		sim := float64(c.Similarity)
		if sim >= t.e.cfg.MatchDistance {
			return c.Question, nil, nil
		}
		if sim < t.e.cfg.MultipleDistance {
			break
		}
		if !seen[c.Question.ID] {
			seen[c.Question.ID] = true
			found = append(found, c.Question)
		}
	}
	return nil, found, nil
}

// collections returns the collections to search, highest priority first.
// Collections without a configured order follow in name order.
func (t *turn) collections(ctx context.Context) ([]string, error) {
	ordered, err := t.e.deps.Answers.Collections(ctx)
	if err != nil {
		return nil, err
	}
	var (
		out  []string
		seen = make(map[string]bool)
	)
	for _, c := range ordered {
		out = append(out, c.Name)
		seen[c.Name] = true
	}
	for _, name := range t.e.deps.Vectors.Index().Collections() {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

func (t *turn) stdQuestion(ctx context.Context, id int64) (*answers.StdQuestion, error) {
	q, err := t.e.deps.Answers.StdQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// asciiDigits rewrites decimal digits of any script, such as full-width
// "１２", to ASCII so strconv can parse them.
func asciiDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= '9' || !unicode.IsDigit(r) {
			return r
		}
		// Decimal digits come in contiguous runs starting at zero.
		n := 0
		for unicode.IsDigit(r - rune(n+1)) {
			n++
		}
		return '0' + rune(n%10)
	}, s)
}

func replaceLen(tips string, n int) string {
	return strings.ReplaceAll(tips, "{$len$}", strconv.Itoa(n))
}
