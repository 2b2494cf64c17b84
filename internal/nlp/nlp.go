// Package nlp splits utterances into part-of-speech tagged tokens and
// clauses for the intent matcher.
package nlp

import (
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"
)

// POS tags the segmenter relies on.
const (
	POSNumeral     = "m"
	POSPunctuation = "w"
	POSUnknown     = "x"
)

// DefaultAmountSigns are the currency signs a following numeral merges into.
var DefaultAmountSigns = []string{"$", "￥"}

// Token is a word with its part-of-speech tag.
type Token struct {
	Word string `json:"word"`
	POS  string `json:"pos"`
}

// Tokenizer cuts text into tagged tokens.
type Tokenizer interface {
	Cut(text string) []Token
}

// Segmenter wraps a Tokenizer with numeral and currency merging.
type Segmenter struct {
	tok   Tokenizer
	signs atomic.Pointer[[]string]
}

// NewSegmenter returns a Segmenter. A nil signs list means DefaultAmountSigns.
func NewSegmenter(tok Tokenizer, signs []string) *Segmenter {
	s := &Segmenter{tok: tok}
	s.SetAmountSigns(signs)
	return s
}

// SetAmountSigns replaces the currency sign list.
func (s *Segmenter) SetAmountSigns(signs []string) {
	if len(signs) == 0 {
		signs = DefaultAmountSigns
	}
	cp := append([]string(nil), signs...)
	s.signs.Store(&cp)
}

// CutSentence returns the raw tokens of text with no merging.
func (s *Segmenter) CutSentence(text string) []Token {
	return s.tok.Cut(text)
}

// Segment tokenizes text. A numeral directly after a currency sign or
// another numeral is merged into the previous token, as is "m , m".
func (s *Segmenter) Segment(text string) []Token {
	raw := s.tok.Cut(text)
	signs := *s.signs.Load()

	out := make([]Token, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		t := raw[i]
		if n := len(out); n > 0 {
			last := &out[n-1]
			if t.POS == POSNumeral && (last.POS == POSNumeral || contains(signs, last.Word)) {
				last.Word += t.Word
				last.POS = POSNumeral
				continue
			}
			if t.Word == "," && last.POS == POSNumeral && i+1 < len(raw) && raw[i+1].POS == POSNumeral {
				last.Word += t.Word + raw[i+1].Word
				i++
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// IsBoundary reports whether the token ends a clause.
func IsBoundary(t Token) bool {
	if t.POS == POSPunctuation {
		return true
	}
	w := strings.TrimSpace(t.Word)
	if w == "" {
		return false
	}
	for _, r := range w {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}

// Clauses splits tokens into clauses. Each clause keeps its closing
// boundary token. Trailing tokens without a boundary form the last clause.
func Clauses(tokens []Token) [][]Token {
	var out [][]Token
	start := 0
	for i, t := range tokens {
		if IsBoundary(t) {
			out = append(out, tokens[start:i+1])
			start = i + 1
		}
	}
	if start < len(tokens) {
		out = append(out, tokens[start:])
	}
	return out
}

// Words returns the words of tokens.
func Words(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Word
	}
	return out
}

// RuneLen counts characters rather than bytes.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
