package embedding

import (
	"container/list"
	"sync"
)

// EmbeddingCache is a thread-safe LRU cache mapping text to its embedding.
// Sized by entry count, not bytes; callers pick a capacity from config.
type EmbeddingCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

type cacheEntry struct {
	text   string
	vector []float32
}

// NewEmbeddingCache creates a cache holding at most capacity entries.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached embedding for text, marking it recently used.
// Lookups take the write lock because a hit reorders the LRU list.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[text]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).vector, true
}

// Set stores the embedding for text, evicting the least recently used
// entry when the cache is full.
func (c *EmbeddingCache) Set(text string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[text]; ok {
		elem.Value.(*cacheEntry).vector = vector
		c.order.MoveToFront(elem)
		return
	}

	c.index[text] = c.order.PushFront(&cacheEntry{text: text, vector: vector})
	for c.order.Len() > c.capacity {
		tail := c.order.Back()
		c.order.Remove(tail)
		delete(c.index, tail.Value.(*cacheEntry).text)
	}
}

// Len reports the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
