// Package nlptest provides a deterministic dictionary tokenizer for tests.
package nlptest

import (
	"unicode"

	"github.com/snakeclub/chat-robot/internal/nlp"
)

// Tokenizer performs greedy forward maximum matching against a fixed
// vocabulary. Runes outside the vocabulary become single-rune tokens tagged
// "m" for digits, "w" for punctuation, and "x" for anything else. Spaces
// are dropped.
type Tokenizer struct {
	words  map[string]string
	maxLen int
}

// New returns a Tokenizer over words, a map from word to POS tag.
func New(words map[string]string) *Tokenizer {
	t := &Tokenizer{words: words}
	for w := range words {
		if n := len([]rune(w)); n > t.maxLen {
			t.maxLen = n
		}
	}
	return t
}

// Cut implements nlp.Tokenizer.
func (t *Tokenizer) Cut(text string) []nlp.Token {
	runes := []rune(text)
	var out []nlp.Token
	for i := 0; i < len(runes); {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}
		matched := false
		for n := min(t.maxLen, len(runes)-i); n > 1; n-- {
			w := string(runes[i : i+n])
			if p, ok := t.words[w]; ok {
				out = append(out, nlp.Token{Word: w, POS: p})
				i += n
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		w := string(runes[i])
		p, ok := t.words[w]
		if !ok {
			switch {
			case unicode.IsDigit(runes[i]):
				p = nlp.POSNumeral
			case unicode.IsPunct(runes[i]):
				p = nlp.POSPunctuation
			default:
				p = nlp.POSUnknown
			}
		}
		out = append(out, nlp.Token{Word: w, POS: p})
		i++
	}
	return out
}
