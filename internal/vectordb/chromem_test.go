package vectordb

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/snakeclub/chat-robot/internal/answers"
	"github.com/snakeclub/chat-robot/internal/db"
	"github.com/snakeclub/chat-robot/internal/logging"
)

func TestChromemIndex_InsertAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := NewChromemIndex(nil)

	err := idx.Insert(ctx, "chat", []Item{
		{VectorID: 1, Text: "你好", Vector: []float32{1, 0, 0}},
		{VectorID: 2, Text: "再见", Vector: []float32{0, 2, 0}},
		{VectorID: 3, Partition: "vip", Text: "转账", Vector: []float32{1, 1, 0}},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if idx.Count() != 3 {
		t.Errorf("Count() = %d, want 3", idx.Count())
	}

	hits, err := idx.Search(ctx, "chat", "", []float32{2, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("Search returned %d hits, want 3 (topK is clamped)", len(hits))
	}
	if hits[0].VectorID != 1 || hits[0].Similarity < 0.999 {
		t.Errorf("best hit = %+v", hits[0])
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Similarity > hits[i-1].Similarity {
			t.Errorf("hits not sorted at %d", i)
		}
	}

	hits, _ = idx.Search(ctx, "chat", "vip", []float32{1, 0, 0}, 10)
	if len(hits) != 1 || hits[0].VectorID != 3 || hits[0].Partition != "vip" {
		t.Errorf("partition search = %+v", hits)
	}

	hits, err = idx.Search(ctx, "missing", "", []float32{1, 0, 0}, 1)
	if err != nil || hits != nil {
		t.Errorf("unknown collection = %v, %v", hits, err)
	}
}

func TestChromemIndex_Delete(t *testing.T) {
	ctx := context.Background()
	idx := NewChromemIndex(nil)
	idx.Insert(ctx, "chat", []Item{
		{VectorID: 1, Text: "a", Vector: []float32{1, 0}},
		{VectorID: 1, Partition: "p", Text: "b", Vector: []float32{0, 1}},
	})

	if err := idx.Delete(ctx, "chat", "", 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	hits, _ := idx.Search(ctx, "chat", "", []float32{1, 0}, 5)
	if len(hits) != 1 || hits[0].Partition != "p" {
		t.Errorf("after delete = %+v", hits)
	}
}

func TestChromemIndex_PersistAndLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx := NewChromemIndex(nil)
	idx.Insert(ctx, "chat", []Item{{VectorID: 1, Text: "你好", Vector: []float32{1, 0}}})
	idx.Insert(ctx, "bank", []Item{{VectorID: 2, Text: "转账", Vector: []float32{0, 1}}})
	if err := idx.Persist(ctx, dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	loaded := NewChromemIndex(nil)
	if err := loaded.Load(ctx, dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Count() != 2 {
		t.Errorf("loaded Count() = %d", loaded.Count())
	}
	if got := strings.Join(loaded.Collections(), ","); got != "bank,chat" {
		t.Errorf("Collections() = %s", got)
	}
	hits, _ := loaded.Search(ctx, "bank", "", []float32{0, 1}, 1)
	if len(hits) != 1 || hits[0].VectorID != 2 {
		t.Errorf("loaded search = %+v", hits)
	}

	if err := NewChromemIndex(nil).Load(ctx, t.TempDir()); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load(empty dir) err = %v, want fs.ErrNotExist", err)
	}
}

func setupAdapter(t *testing.T) (*Adapter, *answers.Store) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	store := answers.NewStore(database)
	return NewAdapter(NewChromemIndex(nil), store, logging.Discard()), store
}

func TestAdapter_Resolve(t *testing.T) {
	ctx := context.Background()
	a, store := setupAdapter(t)

	q, _ := store.AddStdQuestion(ctx, answers.StdQuestion{Collection: "chat", Question: "你好"}, answers.Answer{Text: "hi"})
	ext, _ := store.AddExtQuestion(ctx, answers.ExtQuestion{StdQuestionID: q.ID, Question: "您好"})

	got, err := a.Resolve(ctx, q.VectorID, "chat", "")
	if err != nil || got.ID != q.ID {
		t.Errorf("Resolve(std) = %+v, %v", got, err)
	}
	got, err = a.Resolve(ctx, ext.VectorID, "chat", "")
	if err != nil || got.ID != q.ID {
		t.Errorf("Resolve(ext) = %+v, %v", got, err)
	}
	if _, err := a.Resolve(ctx, 99, "chat", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(99) err = %v", err)
	}
	if _, err := a.Resolve(ctx, q.VectorID, "bank", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve in other scope err = %v", err)
	}
}

func TestAdapter_CandidatesSkipStale(t *testing.T) {
	ctx := context.Background()
	a, store := setupAdapter(t)

	q, _ := store.AddStdQuestion(ctx, answers.StdQuestion{Collection: "chat", Question: "你好"}, answers.Answer{})
	a.Index().Insert(ctx, "chat", []Item{
		{VectorID: q.VectorID, Text: "你好", Vector: []float32{1, 0}},
		{VectorID: 42, Text: "stale", Vector: []float32{1, 0.1}},
	})

	cands, err := a.Candidates(ctx, "chat", "", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 1 || cands[0].Question.ID != q.ID {
		t.Errorf("Candidates = %+v", cands)
	}

	out := FormatResults(cands)
	if !strings.Contains(out, "Found 1 result(s)") || !strings.Contains(out, "你好") {
		t.Errorf("FormatResults = %q", out)
	}
	if FormatResults(nil) != "No results found." {
		t.Error("FormatResults(nil)")
	}
}
