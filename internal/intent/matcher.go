package intent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/snakeclub/chat-robot/internal/nlp"
	"github.com/snakeclub/chat-robot/internal/plugins"
)

// MatchKind tells how a rule was hit.
type MatchKind string

const (
	KindExact MatchKind = "exact"
	KindFuzzy MatchKind = "fuzzy"
)

// Match is one recognised intent.
type Match struct {
	Action           string         `json:"action"`
	Collection       string         `json:"collection"`
	Partition        string         `json:"partition"`
	TargetCollection string         `json:"target_collection"`
	TargetPartition  string         `json:"target_partition"`
	MatchWord        string         `json:"match_word"`
	Kind             MatchKind      `json:"match_type"`
	Polarity         Polarity       `json:"is_sure"`
	Priority         int            `json:"priority"`
	StdQuestionID    int64          `json:"std_question_id"`
	Info             map[string]any `json:"info"`

	entry *entry
}

// Matcher runs intent analysis over the live dictionary.
type Matcher struct {
	table    *Table
	seg      *nlp.Segmenter
	registry *plugins.Registry
}

// NewMatcher returns a Matcher.
func NewMatcher(table *Table, seg *nlp.Segmenter, registry *plugins.Registry) *Matcher {
	return &Matcher{table: table, seg: seg, registry: registry}
}

// Analyse finds the intents of utterance within scopes, highest priority
// first. Without allowMultiple it stops at the first candidate accepted by
// its check callback. An empty result means no intent was found.
func (m *Matcher) Analyse(ctx context.Context, utterance string, scopes []Scope, allowMultiple bool) ([]Match, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, nil
	}
	if len(scopes) == 0 {
		scopes = []Scope{{}}
	}

	dict := m.table.Load()
	tokens := m.seg.Segment(utterance)
	total := nlp.RuneLen(utterance)

	type seenKey struct {
		action string
		scope  Scope
	}
	seen := make(map[seenKey]bool)
	var cands []Match

	// Exact rules compare against the whole utterance, once.
	for _, scope := range scopes {
		hits := dict.exact(scope, utterance)
		if len(hits) == 0 {
			continue
		}
		pol := dict.judge(tokens)
		for _, e := range hits {
			k := seenKey{e.rule.Action, scope}
			if seen[k] {
				continue
			}
			seen[k] = true
			word, _ := e.exactHit(utterance)
			cands = append(cands, newMatch(e, word, KindExact, pol))
		}
		break
	}

	for _, clause := range nlp.Clauses(tokens) {
		var inClause []Match
		for _, tok := range clause {
			if nlp.IsBoundary(tok) {
				continue
			}
			for _, scope := range scopes {
				e := dict.fuzzy(scope, tok.Word)
				if e == nil {
					continue
				}
				k := seenKey{e.rule.Action, scope}
				if !seen[k] {
					seen[k] = true
					inClause = append(inClause, newMatch(e, tok.Word, KindFuzzy, ""))
				}
				break
			}
		}
		if len(inClause) == 0 {
			continue
		}
		pol := dict.judge(clause)
		for _, c := range inClause {
			if !c.entry.meetsScale(tokens, total) {
				continue
			}
			c.Polarity = pol
			cands = append(cands, c)
		}
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Priority > cands[j].Priority })

	var accepted []Match
	for _, c := range cands {
		ok, err := m.check(ctx, utterance, tokens, c)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		accepted = append(accepted, c)
		if !allowMultiple {
			break
		}
	}

	for i := range accepted {
		if err := m.fillInfo(ctx, utterance, tokens, &accepted[i]); err != nil {
			return nil, err
		}
	}
	return accepted, nil
}

func newMatch(e *entry, word string, kind MatchKind, pol Polarity) Match {
	return Match{
		Action:           e.rule.Action,
		Collection:       e.scope.Collection,
		Partition:        e.scope.Partition,
		TargetCollection: e.rule.Collection,
		TargetPartition:  e.rule.Partition,
		MatchWord:        word,
		Kind:             kind,
		Polarity:         pol,
		Priority:         e.rule.Priority,
		StdQuestionID:    e.rule.StdQuestionID,
		Info:             map[string]any{},
		entry:            e,
	}
}

func (m *Matcher) intentCall(utterance string, tokens []nlp.Token, c Match, params map[string]any) plugins.IntentCall {
	return plugins.IntentCall{
		Question:      utterance,
		Tokens:        tokens,
		Action:        c.Action,
		MatchWord:     c.MatchWord,
		MatchKind:     string(c.Kind),
		Collection:    c.Collection,
		Partition:     c.Partition,
		StdQuestionID: c.StdQuestionID,
		Params:        params,
	}
}

func (m *Matcher) check(ctx context.Context, utterance string, tokens []nlp.Token, c Match) (bool, error) {
	ref := c.entry.rule.Check
	if ref.IsZero() {
		return true, nil
	}
	h, err := m.registry.Check(ref.Module, ref.Func)
	if err != nil {
		return false, fmt.Errorf("intent %s: %w", c.Action, err)
	}
	ok, err := h(ctx, m.intentCall(utterance, tokens, c, ref.Params))
	if err != nil {
		return false, fmt.Errorf("intent %s check %s: %w", c.Action, ref, err)
	}
	return ok, nil
}

func (m *Matcher) fillInfo(ctx context.Context, utterance string, tokens []nlp.Token, c *Match) error {
	ref := c.entry.rule.Info
	if ref.IsZero() {
		return nil
	}
	h, err := m.registry.Info(ref.Module, ref.Func)
	if err != nil {
		return fmt.Errorf("intent %s: %w", c.Action, err)
	}
	info, err := h(ctx, m.intentCall(utterance, tokens, *c, ref.Params))
	if err != nil {
		return fmt.Errorf("intent %s info %s: %w", c.Action, ref, err)
	}
	for k, v := range info {
		c.Info[k] = v
	}
	return nil
}

// meetsScale reports whether the characters of all tokens hitting the
// rule's words make up more than WordScale of the utterance.
func (e *entry) meetsScale(tokens []nlp.Token, total int) bool {
	if e.rule.WordScale <= 0 {
		return true
	}
	if total == 0 {
		return false
	}
	hit := 0
	for _, t := range tokens {
		if e.fuzzyHit(t.Word) {
			hit += nlp.RuneLen(t.Word)
		}
	}
	return float64(hit)/float64(total) > e.rule.WordScale
}

// judge combines the polarity words of tokens. One negation makes the
// clause negative, a second one turns it back to sure, and an affirmation
// never overrides a negation.
func (d *Dictionary) judge(tokens []nlp.Token) Polarity {
	var cur Polarity
	for _, t := range tokens {
		p, ok := d.signOf(t.Word, t.POS)
		if !ok {
			continue
		}
		switch {
		case cur == "":
			cur = p
		case cur == PolaritySure && p == PolarityNegative:
			cur = PolarityNegative
		case cur == PolarityNegative && p == PolarityNegative:
			cur = PolaritySure
		}
	}
	if cur == "" {
		return PolarityUncertain
	}
	return cur
}
