package nlp

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-ego/gse"
	"github.com/go-ego/gse/hmm/pos"
)

// GseTokenizer tags Chinese and mixed text with gse's HMM POS segmenter.
type GseTokenizer struct {
	seg gse.Segmenter
	pos pos.Segmenter
}

// NewGseTokenizer loads the embedded dictionary plus an optional user
// dictionary. Each user dictionary line is "word [freq [pos]]".
func NewGseTokenizer(userDict string) (*GseTokenizer, error) {
	t := &GseTokenizer{}
	if err := t.seg.LoadDict(); err != nil {
		return nil, fmt.Errorf("loading gse dictionary: %w", err)
	}
	if userDict != "" {
		if err := t.loadUserDict(userDict); err != nil {
			return nil, err
		}
	}
	t.pos.WithGse(t.seg)
	return t, nil
}

// Cut implements Tokenizer.
func (t *GseTokenizer) Cut(text string) []Token {
	segs := t.pos.Cut(text, true)
	out := make([]Token, 0, len(segs))
	for _, s := range segs {
		if s.Text == "" {
			continue
		}
		out = append(out, Token{Word: s.Text, POS: s.Pos})
	}
	return out
}

func (t *GseTokenizer) loadUserDict(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening user dictionary %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		freq := 100.0
		if len(fields) > 1 {
			if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
				freq = v
			}
		}
		if len(fields) > 2 {
			t.seg.AddToken(fields[0], freq, fields[2])
		} else {
			t.seg.AddToken(fields[0], freq)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading user dictionary %s: %w", path, err)
	}
	return nil
}
