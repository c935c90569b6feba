package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
)

// vectorCache is a fixed-capacity FIFO cache of embedding vectors.
// Reads run concurrently; writes serialize under the lock.
type vectorCache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string][]float32
	order    []string

	hits   atomic.Int64
	misses atomic.Int64
}

func newVectorCache(capacity int) *vectorCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &vectorCache{
		capacity: capacity,
		entries:  make(map[string][]float32, capacity),
	}
}

// cacheKey hashes text, family instruction and model name together.
func cacheKey(text, instruction, model string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(instruction))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *vectorCache) get(key string) ([]float32, bool) {
	c.mu.RLock()
	vec, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, true
	}
	c.misses.Add(1)
	return nil, false
}

func (c *vectorCache) put(key string, vec []float32) {
	stored := make([]float32, len(vec))
	copy(stored, vec)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = stored
		return
	}

	// FIFO eviction.
	for len(c.entries) >= c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = stored
	c.order = append(c.order, key)
}

func (c *vectorCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CacheStats reports cache effectiveness counters.
type CacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

func (c *vectorCache) stats() CacheStats {
	return CacheStats{
		Size:   c.len(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}
