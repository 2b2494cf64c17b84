// Package vectordb indexes question vectors per QA collection and resolves
// nearest-neighbour hits back to standard questions.
package vectordb

import "context"

// Index stores question vectors grouped by collection, with the partition
// kept alongside each vector.
type Index interface {
	// Insert adds or replaces items in a collection, creating it if needed.
	Insert(ctx context.Context, collection string, items []Item) error

	// Search returns up to topK hits in collection, most similar first. An
	// empty partition searches every partition of the collection.
	Search(ctx context.Context, collection, partition string, vec []float32, topK int) ([]Hit, error)

	// Delete removes the given vector ids from a collection partition.
	Delete(ctx context.Context, collection, partition string, ids ...int64) error

	// Collections returns the names of the indexed collections.
	Collections() []string

	// Persist saves the index to the given directory.
	Persist(ctx context.Context, dir string) error

	// Load restores the index from the given directory.
	Load(ctx context.Context, dir string) error

	// Count returns the total number of vectors in the index.
	Count() int
}
