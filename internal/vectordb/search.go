package vectordb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/snakeclub/chat-robot/internal/answers"
)

// ErrNotFound is returned by Resolve when a hit maps to no question.
var ErrNotFound = errors.New("vector id not resolvable")

// QuestionLookup is the part of the answer store Resolve needs.
type QuestionLookup interface {
	StdQuestionByVector(ctx context.Context, vectorID int64, collection, partition string) (*answers.StdQuestion, error)
	ExtQuestionOwner(ctx context.Context, vectorID int64, collection, partition string) (*answers.StdQuestion, error)
}

// Adapter searches the index and resolves hits to standard questions.
type Adapter struct {
	index  Index
	lookup QuestionLookup
	logger *slog.Logger
}

// NewAdapter returns an Adapter over index and lookup.
func NewAdapter(index Index, lookup QuestionLookup, logger *slog.Logger) *Adapter {
	return &Adapter{index: index, lookup: lookup, logger: logger}
}

// Index returns the underlying index.
func (a *Adapter) Index() Index { return a.index }

// Search returns the topK nearest hits in a collection scope.
func (a *Adapter) Search(ctx context.Context, collection, partition string, vec []float32, topK int) ([]Hit, error) {
	return a.index.Search(ctx, collection, partition, vec, topK)
}

// Resolve maps a vector id in a scope to its standard question: a standard
// question indexed under the id first, else the owner of an extension
// question.
func (a *Adapter) Resolve(ctx context.Context, vectorID int64, collection, partition string) (*answers.StdQuestion, error) {
	q, err := a.lookup.StdQuestionByVector(ctx, vectorID, collection, partition)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, answers.ErrNotFound) {
		return nil, err
	}
	q, err = a.lookup.ExtQuestionOwner(ctx, vectorID, collection, partition)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, answers.ErrNotFound) {
		return nil, err
	}
	return nil, fmt.Errorf("vector %d in %s/%s: %w", vectorID, collection, partition, ErrNotFound)
}

// Candidates searches a scope and resolves every hit. Hits that no longer
// map to a question are skipped with a warning.
func (a *Adapter) Candidates(ctx context.Context, collection, partition string, vec []float32, topK int) ([]Candidate, error) {
	hits, err := a.Search(ctx, collection, partition, vec, topK)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		q, err := a.Resolve(ctx, h.VectorID, h.Collection, h.Partition)
		if errors.Is(err, ErrNotFound) {
			a.logger.Warn("skipping stale vector hit", "vector_id", h.VectorID, "collection", h.Collection, "partition", h.Partition)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{Hit: h, Question: q})
	}
	return out, nil
}

// FormatResults renders candidates as human-readable text.
func FormatResults(results []Candidate) string {
	if len(results) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d result(s):\n\n", len(results)))

	for i, r := range results {
		sb.WriteString(fmt.Sprintf("--- Result %d (similarity: %.4f) ---\n", i+1, r.Similarity))
		scope := r.Collection
		if r.Partition != "" {
			scope += "/" + r.Partition
		}
		sb.WriteString(fmt.Sprintf("Scope: %s\n", scope))
		sb.WriteString(fmt.Sprintf("Question: [%d] %s\n", r.Question.ID, r.Question.Question))
		if r.Text != r.Question.Question {
			sb.WriteString(fmt.Sprintf("Matched: %s\n", r.Text))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
