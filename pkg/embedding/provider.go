// Package embedding turns text into fixed-dimensional unit vectors with
// model-family aware preprocessing, FIFO caching and order-preserving
// batching.
package embedding

import "context"

// Provider is a raw embedding backend. The Engine wraps a provider with
// preprocessing, caching and batching; callers should not use providers
// directly.
type Provider interface {
	// EmbedBatch embeds the given texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the output vector dimension.
	Dimension() int

	// ModelName returns the configured model name.
	ModelName() string

	// Close releases provider resources.
	Close() error
}
