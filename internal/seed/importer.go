package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/snakeclub/chat-robot/internal/answers"
	"github.com/snakeclub/chat-robot/internal/embeddings"
	"github.com/snakeclub/chat-robot/internal/progress"
	"github.com/snakeclub/chat-robot/internal/vectordb"
)

const embedBatchSize = 64

// ErrNoFiles is returned when no seed file matches the given patterns.
var ErrNoFiles = errors.New("no seed files matched")

// Summary counts what an import added.
type Summary struct {
	Files        int `json:"files"`
	Questions    int `json:"questions"`
	ExtQuestions int `json:"ext_questions"`
	Intents      int `json:"intents"`
	Vectors      int `json:"vectors"`
}

// Importer writes seed files to the answer store and the vector index.
type Importer struct {
	store    *answers.Store
	index    vectordb.Index
	embedder embeddings.Embedder
	reporter progress.Reporter
	logger   *slog.Logger
}

// NewImporter returns an Importer. A nil reporter discards progress.
func NewImporter(store *answers.Store, index vectordb.Index, embedder embeddings.Embedder, reporter progress.Reporter, logger *slog.Logger) *Importer {
	if reporter == nil {
		reporter = progress.Nop{}
	}
	return &Importer{store: store, index: index, embedder: embedder, reporter: reporter, logger: logger}
}

// ImportFiles imports every file matching patterns.
func (im *Importer) ImportFiles(ctx context.Context, patterns []string) (Summary, error) {
	paths, err := Match(patterns)
	if err != nil {
		return Summary{}, err
	}
	if len(paths) == 0 {
		return Summary{}, fmt.Errorf("%w: %v", ErrNoFiles, patterns)
	}
	files := make([]*File, 0, len(paths))
	for _, p := range paths {
		f, err := Load(p)
		if err != nil {
			return Summary{}, err
		}
		files = append(files, f)
	}
	return im.Import(ctx, files...)
}

// Import writes the files in three passes so that references by tag
// resolve across files: dictionaries and plain questions, then questions
// with options answers, then intent rules. The new questions are indexed
// last.
func (im *Importer) Import(ctx context.Context, files ...*File) (Summary, error) {
	sum := Summary{Files: len(files)}
	var entries []answers.VectorEntry

	for _, f := range files {
		if err := im.dictionaries(ctx, f); err != nil {
			return sum, fmt.Errorf("%s: %w", f.Path, err)
		}
	}
	for _, withOptions := range []bool{false, true} {
		for _, f := range files {
			for _, q := range f.Questions {
				if (q.Answer.Type == answers.KindOptions) != withOptions {
					continue
				}
				added, err := im.addQuestion(ctx, q)
				if err != nil {
					return sum, fmt.Errorf("%s: question %q: %w", f.Path, q.Question, err)
				}
				sum.Questions++
				sum.ExtQuestions += len(added) - 1
				entries = append(entries, added...)
			}
		}
	}
	for _, f := range files {
		for _, in := range f.Intents {
			if err := im.addIntent(ctx, in); err != nil {
				return sum, fmt.Errorf("%s: intent %q: %w", f.Path, in.Action, err)
			}
			sum.Intents++
		}
	}

	n, err := im.indexEntries(ctx, entries)
	sum.Vectors = n
	if err != nil {
		return sum, err
	}
	im.logger.Info("seed imported",
		"files", sum.Files, "questions", sum.Questions, "ext_questions", sum.ExtQuestions,
		"intents", sum.Intents, "vectors", sum.Vectors)
	return sum, nil
}

// Reindex embeds every stored question into the index.
func (im *Importer) Reindex(ctx context.Context) (int, error) {
	entries, err := im.store.VectorEntries(ctx)
	if err != nil {
		return 0, err
	}
	return im.indexEntries(ctx, entries)
}

func (im *Importer) dictionaries(ctx context.Context, f *File) error {
	for _, c := range f.Collections {
		if err := im.store.SetCollectionOrder(ctx, c); err != nil {
			return err
		}
	}
	for name, v := range f.CommonParams {
		if err := im.store.SetCommonParam(ctx, name, v); err != nil {
			return err
		}
	}
	for _, w := range f.Polarity {
		if err := im.store.AddPolarityWord(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// addQuestion stores q and returns the vector entries of the standard
// question followed by its extension questions.
func (im *Importer) addQuestion(ctx context.Context, q Question) ([]answers.VectorEntry, error) {
	payload, text, err := im.answer(ctx, q.Answer)
	if err != nil {
		return nil, err
	}
	std, err := im.store.AddStdQuestion(ctx, answers.StdQuestion{
		Tag:        q.Tag,
		VectorID:   q.VectorID,
		Collection: q.Collection,
		Partition:  q.Partition,
		Question:   q.Question,
	}, answers.Answer{Payload: payload, ReplacePreDef: q.Answer.ReplacePreDef, Text: text})
	if err != nil {
		return nil, err
	}

	entries := []answers.VectorEntry{{VectorID: std.VectorID, Collection: std.Collection, Partition: std.Partition, Text: std.Question}}
	for _, ext := range q.Ext {
		e, err := im.store.AddExtQuestion(ctx, answers.ExtQuestion{StdQuestionID: std.ID, Question: ext})
		if err != nil {
			return nil, err
		}
		entries = append(entries, answers.VectorEntry{VectorID: e.VectorID, Collection: std.Collection, Partition: std.Partition, Text: ext})
	}
	return entries, nil
}

func (im *Importer) answer(ctx context.Context, a Answer) (answers.Payload, string, error) {
	kind := a.Type
	if kind == "" {
		kind = answers.KindText
	}

	switch kind {
	case answers.KindJSON:
		text := a.Text
		if a.JSON != nil {
			b, err := json.Marshal(a.JSON)
			if err != nil {
				return nil, "", fmt.Errorf("encoding json answer: %w", err)
			}
			text = string(b)
		}
		return answers.JSONPayload{}, text, nil
	case answers.KindOptions:
		opts := make([]answers.Option, 0, len(a.Options))
		for _, ref := range a.Options {
			id := ref.StdQuestionID
			if ref.Tag != "" {
				q, err := im.store.StdQuestionByTag(ctx, ref.Tag, "")
				if err != nil {
					return nil, "", fmt.Errorf("option %q: %w", ref.Tag, err)
				}
				id = q.ID
			}
			opts = append(opts, answers.Option{StdQuestionID: id, Label: ref.Label})
		}
		return answers.OptionsPayload{Options: opts}, a.Text, nil
	case answers.KindJob, answers.KindAsk:
		b, err := json.Marshal(a.Param)
		if err != nil {
			return nil, "", fmt.Errorf("encoding %s param: %w", kind, err)
		}
		p, err := answers.DecodePayload(kind, string(b))
		return p, a.Text, err
	default:
		p, err := answers.DecodePayload(kind, "")
		return p, a.Text, err
	}
}

func (im *Importer) addIntent(ctx context.Context, in Intent) error {
	rule := in.Rule
	if in.Tag != "" {
		q, err := im.store.StdQuestionByTag(ctx, in.Tag, rule.Collection)
		if err != nil {
			return err
		}
		rule.StdQuestionID = q.ID
		if rule.Collection == "" {
			rule.Collection = q.Collection
			rule.Partition = q.Partition
		}
	}
	return im.store.UpsertIntentRule(ctx, rule)
}

// indexEntries embeds entries in batches and inserts them per collection.
func (im *Importer) indexEntries(ctx context.Context, entries []answers.VectorEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	if im.embedder == nil {
		return 0, fmt.Errorf("indexing %d questions: no embedder configured", len(entries))
	}

	im.reporter.Start(len(entries))
	defer im.reporter.Finish()

	done := 0
	for start := 0; start < len(entries); start += embedBatchSize {
		batch := entries[start:min(start+embedBatchSize, len(entries))]
		texts := make([]string, len(batch))
		for i, e := range batch {
			texts[i] = e.Text
		}
		vecs, err := im.embedder.Embed(ctx, texts)
		if err != nil {
			return done, fmt.Errorf("embedding questions: %w", err)
		}
		if len(vecs) != len(batch) {
			return done, fmt.Errorf("embedding questions: got %d vectors for %d texts", len(vecs), len(batch))
		}

		byCollection := make(map[string][]vectordb.Item)
		var order []string
		for i, e := range batch {
			if _, ok := byCollection[e.Collection]; !ok {
				order = append(order, e.Collection)
			}
			byCollection[e.Collection] = append(byCollection[e.Collection], vectordb.Item{
				VectorID:  e.VectorID,
				Partition: e.Partition,
				Text:      e.Text,
				Vector:    embeddings.Normalize(vecs[i]),
			})
		}
		for _, coll := range order {
			items := byCollection[coll]
			if err := im.index.Insert(ctx, coll, items); err != nil {
				return done, err
			}
			done += len(items)
			im.reporter.Update(done, coll)
		}
	}
	return done, nil
}
