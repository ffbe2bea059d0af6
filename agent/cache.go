package agent

import (
	"container/list"
	"sync"

	"github.com/kinos-ai/kinos/internal/metrics"
)

// PromptCache memoizes rendered prompts and LLM responses in process. The
// registry clears it when degradation handling detects a poor hit rate.
type PromptCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int

	hits   int64
	misses int64

	collector *metrics.Collector
}

type cacheEntry struct {
	key   string
	value string
}

// NewPromptCache creates an LRU cache holding at most maxEntries prompts.
// The collector may be nil.
func NewPromptCache(maxEntries int, collector *metrics.Collector) *PromptCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &PromptCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		collector:  collector,
	}
}

// Get returns the cached value for key, if present.
func (c *PromptCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		if c.collector != nil {
			c.collector.RecordCacheMiss("prompt")
		}
		return "", false
	}

	c.order.MoveToFront(el)
	c.hits++
	if c.collector != nil {
		c.collector.RecordCacheHit("prompt")
	}
	return el.Value.(*cacheEntry).value, true
}

// Put stores a value, evicting the least recently used entry when full.
func (c *PromptCache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).value = value
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{key: key, value: value})
	c.entries[key] = el

	if c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Clear drops every entry but keeps hit/miss counters.
func (c *PromptCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Stats returns cumulative hit and miss counts.
func (c *PromptCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// HitRate returns hits / (hits + misses), or 0 with no activity.
func (c *PromptCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// Len returns the number of cached entries.
func (c *PromptCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
