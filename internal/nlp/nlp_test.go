package nlp_test

import (
	"reflect"
	"testing"

	"github.com/snakeclub/chat-robot/internal/nlp"
	"github.com/snakeclub/chat-robot/internal/nlp/nlptest"
)

func newSegmenter(signs []string) *nlp.Segmenter {
	tok := nlptest.New(map[string]string{
		"我要": "v",
		"转账": "v",
		"给":  "p",
		"张三": "nr",
		"不是": "d",
	})
	return nlp.NewSegmenter(tok, signs)
}

func TestSegmentMergesCurrencyAndNumerals(t *testing.T) {
	seg := newSegmenter(nil)

	got := seg.Segment("转账$100给张三")
	want := []nlp.Token{
		{Word: "转账", POS: "v"},
		{Word: "$100", POS: "m"},
		{Word: "给", POS: "p"},
		{Word: "张三", POS: "nr"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Segment() = %+v, want %+v", got, want)
	}
}

func TestSegmentMergesThousandsSeparator(t *testing.T) {
	seg := newSegmenter(nil)

	got := seg.Segment("转账1,000")
	if len(got) != 2 || got[1] != (nlp.Token{Word: "1,000", POS: "m"}) {
		t.Errorf("Segment() = %+v, want 1,000 merged", got)
	}

	// A trailing comma is a clause boundary, not a separator.
	got = seg.Segment("转账1,")
	if len(got) != 3 || got[2].Word != "," {
		t.Errorf("Segment() = %+v, want trailing comma kept", got)
	}
}

func TestSegmentCustomSigns(t *testing.T) {
	seg := newSegmenter([]string{"€"})
	got := seg.Segment("€5")
	if len(got) != 1 || got[0].Word != "€5" {
		t.Errorf("Segment() = %+v, want €5 merged", got)
	}

	seg.SetAmountSigns(nil)
	got = seg.Segment("€5")
	if len(got) != 2 {
		t.Errorf("after reset Segment() = %+v, want sign and numeral apart", got)
	}
}

func TestCutSentenceNoMerge(t *testing.T) {
	seg := newSegmenter(nil)
	got := seg.CutSentence("$12")
	if len(got) != 3 {
		t.Errorf("CutSentence() = %+v, want 3 raw tokens", got)
	}
}

func TestClauses(t *testing.T) {
	seg := newSegmenter(nil)
	tokens := seg.Segment("我要转账，不是给张三")

	clauses := nlp.Clauses(tokens)
	if len(clauses) != 2 {
		t.Fatalf("Clauses() = %d clauses, want 2: %+v", len(clauses), clauses)
	}
	if got := nlp.Words(clauses[0]); !reflect.DeepEqual(got, []string{"我要", "转账", "，"}) {
		t.Errorf("first clause = %v", got)
	}
	if got := nlp.Words(clauses[1]); !reflect.DeepEqual(got, []string{"不是", "给", "张三"}) {
		t.Errorf("second clause = %v", got)
	}
}

func TestIsBoundary(t *testing.T) {
	tests := []struct {
		tok  nlp.Token
		want bool
	}{
		{nlp.Token{Word: "。", POS: "x"}, true},
		{nlp.Token{Word: "?", POS: "x"}, true},
		{nlp.Token{Word: "abc", POS: "w"}, true},
		{nlp.Token{Word: " ", POS: "x"}, false},
		{nlp.Token{Word: "转账", POS: "v"}, false},
		{nlp.Token{Word: "$", POS: "x"}, true},
	}
	for _, tt := range tests {
		if got := nlp.IsBoundary(tt.tok); got != tt.want {
			t.Errorf("IsBoundary(%+v) = %v, want %v", tt.tok, got, tt.want)
		}
	}
}

func TestRuneLen(t *testing.T) {
	if got := nlp.RuneLen("转账ab"); got != 4 {
		t.Errorf("RuneLen() = %d, want 4", got)
	}
}
