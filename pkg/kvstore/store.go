// Package kvstore abstracts the durable key/value collaborator used for
// conversation history, indexing queues and registries.
//
// The production implementation is Redis; tests run against miniredis through
// the same client.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or hash field does not exist.
var ErrNotFound = errors.New("kvstore: not found")

// ErrEmpty is returned by a blocking list pop that timed out with no item.
var ErrEmpty = errors.New("kvstore: list empty")

// Well-known keys. Conversation history keys are per-conversation and built
// with ConversationKey.
const (
	KeyIndexingQueue     = "rag:indexing_queue"
	KeyBulkIndexingQueue = "rag:bulk_indexing_queue"
	KeyDocumentRegistry  = "rag:document_registry"
	KeyJobRegistry       = "rag:job_registry"
	KeyDataSources       = "rag:data_sources"
	KeyBatchJobs         = "rag:batch_jobs"
	KeyBatchStats        = "rag:batch_stats"
	KeyIndexingStats     = "rag:indexing_stats"
)

// ConversationKey returns the append-only message list key for a conversation.
func ConversationKey(conversationID string) string {
	return "conversation:" + conversationID + ":messages"
}

// ConversationMetaKey returns the metadata hash key for a conversation.
func ConversationMetaKey(conversationID string) string {
	return "conversation:" + conversationID + ":meta"
}

// Store is the key/value collaborator contract.
type Store interface {
	// ListPush appends values to the tail of a list.
	ListPush(ctx context.Context, key string, values ...string) error

	// ListPop removes and returns the head of a list, blocking up to timeout.
	// Returns ErrEmpty when the timeout elapses with no item.
	ListPop(ctx context.Context, key string, timeout time.Duration) (string, error)

	// ListRange returns elements between start and stop inclusive; negative
	// indexes count from the tail (redis semantics).
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// ListLen returns the list length.
	ListLen(ctx context.Context, key string) (int64, error)

	// HashSet sets a field in a hash.
	HashSet(ctx context.Context, key, field, value string) error

	// HashGet returns a hash field or ErrNotFound.
	HashGet(ctx context.Context, key, field string) (string, error)

	// HashGetAll returns all fields of a hash.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// HashDelete removes fields from a hash.
	HashDelete(ctx context.Context, key string, fields ...string) error

	// Set stores a plain key with optional TTL (0 = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns a plain key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes keys.
	Delete(ctx context.Context, keys ...string) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}
