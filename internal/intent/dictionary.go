// Package intent matches utterances against keyword rules to find the
// user's intended action.
package intent

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/snakeclub/chat-robot/internal/plugins"
)

// Scope is a (collection, partition) pair. The zero Scope is global.
type Scope struct {
	Collection string
	Partition  string
}

// ScopesFor returns the scope list for a request: the given collection and
// partition, or the global scope when no collection is given.
func ScopesFor(collection, partition string) []Scope {
	if collection == "" {
		return []Scope{{}}
	}
	return []Scope{{Collection: collection, Partition: partition}}
}

// Rule is one intent rule. (Action, MatchCollection, MatchPartition) is
// unique.
type Rule struct {
	Action          string      `json:"action" yaml:"action"`
	MatchCollection string      `json:"match_collection" yaml:"match_collection"`
	MatchPartition  string      `json:"match_partition" yaml:"match_partition"`
	Collection      string      `json:"collection" yaml:"collection"`
	Partition       string      `json:"partition" yaml:"partition"`
	StdQuestionID   int64       `json:"std_question_id" yaml:"std_question_id"`
	Priority        int         `json:"priority" yaml:"priority"`
	ExactWords      []string    `json:"exact_match_words" yaml:"exact_match_words"`
	ExactIgnoreCase bool        `json:"exact_ignorecase" yaml:"exact_ignorecase"`
	MatchWords      []string    `json:"match_words" yaml:"match_words"`
	IgnoreCase      bool        `json:"ignorecase" yaml:"ignorecase"`
	WordScale       float64     `json:"word_scale" yaml:"word_scale"`
	Info            plugins.Ref `json:"info" yaml:"info"`
	Check           plugins.Ref `json:"check" yaml:"check"`
}

// Polarity is the affirmation judgement of a clause.
type Polarity string

const (
	PolaritySure      Polarity = "sure"
	PolarityNegative  Polarity = "negative"
	PolarityUncertain Polarity = "uncertain"
)

// PolarityWord marks a word as affirming or negating. An empty WordClass
// applies to every part of speech.
type PolarityWord struct {
	Word      string   `json:"word" yaml:"word"`
	Sign      Polarity `json:"sign" yaml:"sign"`
	WordClass string   `json:"word_class" yaml:"word_class"`
}

type entry struct {
	rule       Rule
	scope      Scope
	exactWords map[string]struct{}
	matchWords map[string]struct{}
}

func wordSet(words []string, fold bool) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if fold {
			w = strings.ToLower(w)
		}
		set[w] = struct{}{}
	}
	return set
}

func (e *entry) exactHit(utterance string) (string, bool) {
	u := utterance
	if e.rule.ExactIgnoreCase {
		u = strings.ToLower(u)
	}
	_, ok := e.exactWords[u]
	return u, ok
}

func (e *entry) fuzzyHit(word string) bool {
	if e.rule.IgnoreCase {
		word = strings.ToLower(word)
	}
	_, ok := e.matchWords[word]
	return ok
}

type scopeTable struct {
	exact []*entry
	fuzzy []*entry
}

type polarityKey struct {
	word  string
	class string
}

// Dictionary is an immutable snapshot of the rules and the polarity table.
type Dictionary struct {
	scopes   map[Scope]*scopeTable
	polarity map[polarityKey]Polarity
	rules    int
}

// Build indexes rules by scope. Within a scope both tables are ordered by
// priority, highest first; equal priorities keep input order.
func Build(rules []Rule, words []PolarityWord) *Dictionary {
	d := &Dictionary{
		scopes:   make(map[Scope]*scopeTable),
		polarity: make(map[polarityKey]Polarity),
		rules:    len(rules),
	}

	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	for _, r := range sorted {
		scope := Scope{Collection: r.MatchCollection, Partition: r.MatchPartition}
		st := d.scopes[scope]
		if st == nil {
			st = &scopeTable{}
			d.scopes[scope] = st
		}
		e := &entry{
			rule:       r,
			scope:      scope,
			exactWords: wordSet(r.ExactWords, r.ExactIgnoreCase),
			matchWords: wordSet(r.MatchWords, r.IgnoreCase),
		}
		if len(e.exactWords) > 0 {
			st.exact = append(st.exact, e)
		}
		if len(e.matchWords) > 0 {
			st.fuzzy = append(st.fuzzy, e)
		}
	}

	for _, w := range words {
		k := polarityKey{word: w.Word, class: w.WordClass}
		// A negation entry wins over an affirmation for the same key.
		if d.polarity[k] == PolarityNegative {
			continue
		}
		d.polarity[k] = w.Sign
	}
	return d
}

// Len returns the number of rules.
func (d *Dictionary) Len() int { return d.rules }

// exact returns every exact-match entry of scope hit by the utterance.
func (d *Dictionary) exact(scope Scope, utterance string) []*entry {
	st := d.scopes[scope]
	if st == nil {
		return nil
	}
	var hits []*entry
	for _, e := range st.exact {
		if _, ok := e.exactHit(utterance); ok {
			hits = append(hits, e)
		}
	}
	return hits
}

// fuzzy returns the highest priority fuzzy entry of scope containing word.
func (d *Dictionary) fuzzy(scope Scope, word string) *entry {
	st := d.scopes[scope]
	if st == nil {
		return nil
	}
	for _, e := range st.fuzzy {
		if e.fuzzyHit(word) {
			return e
		}
	}
	return nil
}

func (d *Dictionary) signOf(word, pos string) (Polarity, bool) {
	for _, class := range []string{pos, ""} {
		if p, ok := d.polarity[polarityKey{word: word, class: class}]; ok {
			return p, true
		}
	}
	return "", false
}

// Table holds the live Dictionary. Reload swaps in a fully built snapshot,
// so readers never see a partial table.
type Table struct {
	dict atomic.Pointer[Dictionary]
}

// NewTable returns a Table holding an empty dictionary.
func NewTable() *Table {
	t := &Table{}
	t.dict.Store(Build(nil, nil))
	return t
}

// Reload rebuilds the dictionary from rules and polarity words.
func (t *Table) Reload(rules []Rule, words []PolarityWord) {
	t.dict.Store(Build(rules, words))
}

// Load returns the current snapshot.
func (t *Table) Load() *Dictionary { return t.dict.Load() }
