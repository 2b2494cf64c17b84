package vectordb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/snakeclub/chat-robot/internal/embeddings"
)

const exportFile = "chromem.gob.gz"

const (
	metaVectorID  = "vector_id"
	metaPartition = "partition"
)

// ChromemIndex implements Index using chromem-go, one chromem collection
// per QA collection.
type ChromemIndex struct {
	db        *chromem.DB
	embedFunc chromem.EmbeddingFunc
}

// NewChromemIndex creates a new in-memory ChromemIndex. embedder may be nil
// when every inserted item carries its vector.
func NewChromemIndex(embedder embeddings.Embedder) *ChromemIndex {
	return &ChromemIndex{
		db:        chromem.NewDB(),
		embedFunc: embeddings.ToChromemFunc(embedder),
	}
}

func docID(partition string, vectorID int64) string {
	return partition + ":" + strconv.FormatInt(vectorID, 10)
}

func (x *ChromemIndex) Insert(ctx context.Context, collection string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	col, err := x.db.GetOrCreateCollection(collection, nil, x.embedFunc)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}

	docs := make([]chromem.Document, len(items))
	for i, it := range items {
		var vec []float32
		if len(it.Vector) > 0 {
			vec = embeddings.Normalize(append([]float32(nil), it.Vector...))
		}
		docs[i] = chromem.Document{
			ID:        docID(it.Partition, it.VectorID),
			Content:   it.Text,
			Embedding: vec,
			Metadata: map[string]string{
				metaVectorID:  strconv.FormatInt(it.VectorID, 10),
				metaPartition: it.Partition,
			},
		}
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("chromem insert into %s: %w", collection, err)
	}
	return nil
}

func (x *ChromemIndex) Search(ctx context.Context, collection, partition string, vec []float32, topK int) ([]Hit, error) {
	col := x.db.GetCollection(collection, x.embedFunc)
	if col == nil {
		return nil, nil
	}
	if topK <= 0 {
		topK = 1
	}

	// chromem-go requires nResults <= collection size.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	topK = min(topK, count)

	var where map[string]string
	if partition != "" {
		where = map[string]string{metaPartition: partition}
	}

	query := embeddings.Normalize(append([]float32(nil), vec...))
	results, err := col.QueryEmbedding(ctx, query, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseInt(r.Metadata[metaVectorID], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("document %s has no vector id: %w", r.ID, err)
		}
		hits = append(hits, Hit{
			VectorID:   id,
			Collection: collection,
			Partition:  r.Metadata[metaPartition],
			Text:       r.Content,
			Similarity: r.Similarity,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	return hits, nil
}

func (x *ChromemIndex) Delete(ctx context.Context, collection, partition string, ids ...int64) error {
	col := x.db.GetCollection(collection, x.embedFunc)
	if col == nil || len(ids) == 0 {
		return nil
	}
	docIDs := make([]string, len(ids))
	for i, id := range ids {
		docIDs[i] = docID(partition, id)
	}
	return col.Delete(ctx, nil, nil, docIDs...)
}

func (x *ChromemIndex) Collections() []string {
	cols := x.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (x *ChromemIndex) Persist(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	return x.db.ExportToFile(filepath.Join(dir, exportFile), true, "")
}

// Load replaces the collections with the ones exported to dir. A missing
// export is reported as fs.ErrNotExist.
func (x *ChromemIndex) Load(ctx context.Context, dir string) error {
	path := filepath.Join(dir, exportFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("vector index %s: %w", path, fs.ErrNotExist)
	}
	if err := x.db.ImportFromFile(path, ""); err != nil {
		return fmt.Errorf("import from file: %w", err)
	}
	return nil
}

func (x *ChromemIndex) Count() int {
	total := 0
	for _, col := range x.db.ListCollections() {
		total += col.Count()
	}
	return total
}
