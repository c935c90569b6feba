package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// MockProvider produces deterministic pseudo-embeddings for tests and local
// development without a model server. Vectors are derived from text hashes so
// identical texts map to identical vectors.
type MockProvider struct {
	Dim   int
	Model string

	// Calls records every batch passed to EmbedBatch.
	Calls [][]string
}

// NewMockProvider returns a mock with the given dimension.
func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 8
	}
	return &MockProvider{Dim: dim, Model: "mock-embedder"}
}

func (m *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.Calls = append(m.Calls, append([]string(nil), texts...))

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vectorFor(text)
	}
	return out, nil
}

func (m *MockProvider) vectorFor(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.Dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(math.Sin(float64(seed % 10007)))
	}
	return vec
}

func (m *MockProvider) Dimension() int    { return m.Dim }
func (m *MockProvider) ModelName() string { return m.Model }
func (m *MockProvider) Close() error      { return nil }

var _ Provider = (*MockProvider)(nil)
