// Package embeddingstest provides a deterministic embedder for tests.
package embeddingstest

import (
	"context"
	"errors"
	"sync"
)

// ErrFailing is returned by a Static embedder with Fail set.
var ErrFailing = errors.New("embedder failing")

// Static returns fixed vectors per text. Texts it does not know embed to
// Fallback, or to a unit vector along the last axis when Fallback is nil.
type Static struct {
	Dim      int
	Vectors  map[string][]float32
	Fallback []float32
	Fail     bool

	mu    sync.Mutex
	calls int
}

// New returns a Static embedder of dim dimensions.
func New(dim int, vectors map[string][]float32) *Static {
	return &Static{Dim: dim, Vectors: vectors}
}

func (s *Static) Name() string { return "static" }

func (s *Static) Dimensions() int { return s.Dim }

func (s *Static) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.Fail {
		return nil, ErrFailing
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := s.Vectors[t]
		if !ok {
			v = s.Fallback
		}
		if v == nil {
			v = make([]float32, s.Dim)
			v[s.Dim-1] = 1
		}
		out[i] = append([]float32(nil), v...)
	}
	return out, nil
}

// Calls returns how many times Embed was called.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
