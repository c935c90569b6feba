package tool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// resultCache is a TTL cache of successful tool results keyed by
// hash(name, params). Oldest entries go first when capacity is reached.
type resultCache struct {
	capacity int
	entries  map[string]cacheEntry
	order    []string
	now      func() time.Time
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

func newResultCache(capacity int) *resultCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &resultCache{
		capacity: capacity,
		entries:  make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// cacheKey hashes the tool name with a canonical rendering of params.
func cacheKey(name string, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(name))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		if data, err := json.Marshal(params[k]); err == nil {
			h.Write(data)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *resultCache) get(key string) (interface{}, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (c *resultCache) put(key string, value interface{}, ttl time.Duration) {
	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.capacity && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
}
