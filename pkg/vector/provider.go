// Package vector defines the vector index collaborator contract and its
// providers (qdrant for production, chromem for embedded/dev use).
//
// Upserts and deletes are idempotent by id; the index owns vectors once
// upserted.
package vector

import "context"

// Result is a single similarity search hit.
type Result struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]any
	Score    float32
}

// Provider is the vector index contract used by search and indexing.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Upsert adds or updates a point. Creating the collection on first use
	// is provider-specific but must be idempotent.
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error

	// Search returns the topK most similar points.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// SearchWithOptions combines similarity with a minimum score threshold
	// and metadata filtering. A zero threshold disables score filtering.
	SearchWithOptions(ctx context.Context, collection string, vector []float32, topK int, threshold float32, filter map[string]any) ([]Result, error)

	// Delete removes a point by id. Deleting a missing id is not an error.
	Delete(ctx context.Context, collection, id string) error

	// DeleteByFilter removes all points matching the metadata filter.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	// Count returns the number of points in the collection.
	Count(ctx context.Context, collection string) (uint64, error)

	// CreateCollection ensures a collection exists with the given dimension.
	CreateCollection(ctx context.Context, collection string, vectorDimension int) error

	// DeleteCollection removes a collection and all its points.
	DeleteCollection(ctx context.Context, collection string) error

	// Health verifies the index is reachable.
	Health(ctx context.Context) error

	// Close releases provider resources.
	Close() error
}
