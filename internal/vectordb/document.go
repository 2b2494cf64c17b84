package vectordb

import "github.com/snakeclub/chat-robot/internal/answers"

// Item is one vector to index: a standard or extension question.
type Item struct {
	VectorID  int64
	Partition string
	Text      string
	Vector    []float32
}

// Hit is a search result. Similarity is the cosine similarity of the
// normalized vectors.
type Hit struct {
	VectorID   int64
	Collection string
	Partition  string
	Text       string
	Similarity float32
}

// Candidate is a hit resolved to its standard question.
type Candidate struct {
	Hit
	Question *answers.StdQuestion
}
