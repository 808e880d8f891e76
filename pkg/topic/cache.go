package topic

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the capacity of the process-wide cache used by Lookup.
const DefaultCacheSize = 4096

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// Cache memoizes parsed topics keyed by their raw string. It is bounded and
// evicts the least recently used entry when full. Malformed filters are never
// cached. Safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, *Topic]
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// NewCache creates a cache holding at most size parsed topics.
func NewCache(size int) (*Cache, error) {
	entries, err := lru.New[string, *Topic](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create topic cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// Get returns the parsed form of raw, parsing and storing it on a miss.
// Two goroutines missing on the same key may both parse; the results are
// equivalent and whichever is stored last wins.
func (c *Cache) Get(raw string) (*Topic, error) {
	if t, ok := c.entries.Get(raw); ok {
		c.hits.Add(1)
		return t, nil
	}
	c.misses.Add(1)

	t, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if !t.IsEmpty() {
		c.entries.Add(raw, t)
	}
	return t, nil
}

// Len returns the number of cached topics.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge drops every cached topic.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Stats returns hit/miss counters and the current size.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.entries.Len(),
	}
}

var defaultCache = mustNewCache(DefaultCacheSize)

func mustNewCache(size int) *Cache {
	c, err := NewCache(size)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultCache returns the process-wide cache used by Lookup.
func DefaultCache() *Cache {
	return defaultCache
}

// Lookup parses raw through the process-wide cache.
func Lookup(raw string) (*Topic, error) {
	return defaultCache.Get(raw)
}
