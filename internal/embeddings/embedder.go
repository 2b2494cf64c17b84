// Package embeddings turns questions into vectors for the nearest-neighbour
// index.
package embeddings

import (
	"context"
	"fmt"
	"math"

	"github.com/snakeclub/chat-robot/internal/config"
)

// Embedder defines the interface for generating text embeddings.
type Embedder interface {
	// Embed generates embeddings for one or more texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name returns the name/identifier of the embedding model.
	Name() string
}

// New builds the embedder selected by cfg. apiKey is only used by
// providers that need one.
func New(cfg config.EmbeddingConfig, apiKey string) (Embedder, error) {
	switch cfg.Provider {
	case config.EmbeddingOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("openai embeddings need %s", config.APIKeyEnvVar(cfg.Provider))
		}
		return NewOpenAIEmbedder(apiKey, OpenAIModel(cfg.Model), cfg.Dimensions, cfg.BaseURL), nil
	case config.EmbeddingOllama:
		return NewOllamaEmbedder(cfg.Model, cfg.Dimensions, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// Normalize scales v to unit length in place and returns it. A zero vector
// is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// EmbedOne embeds a single text and normalizes the result.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%s returned no embedding", e.Name())
	}
	return Normalize(vecs[0]), nil
}
