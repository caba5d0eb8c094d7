package schema

import (
	"context"
	"sync"
)

// Cache holds the most recently extracted Schema. It is read-mostly: a
// refresh builds a complete new Schema and swaps it in under the write
// lock, so readers never observe a partially updated value.
type Cache struct {
	mu        sync.RWMutex
	current   *Schema
	extractor *Extractor
	owner     string
}

// NewCache creates an empty cache over the given extractor and owner.
func NewCache(extractor *Extractor, owner string) *Cache {
	return &Cache{extractor: extractor, owner: owner}
}

// Get returns the cached Schema, extracting it on first use. With force
// set, a fresh extraction replaces the cached value wholesale; on
// extraction failure the previous value is kept.
func (c *Cache) Get(ctx context.Context, force bool) (*Schema, error) {
	if !force {
		c.mu.RLock()
		cached := c.current
		c.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}
	}

	fresh, err := c.extractor.Extract(ctx, c.owner)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.current = fresh
	c.mu.Unlock()
	return fresh, nil
}

// Invalidate drops the cached Schema; the next Get re-extracts.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}
