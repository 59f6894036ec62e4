// Package cache provides a content-addressed cache for embedding vectors.
//
// Unlike a typical query cache, entries never expire on their own: the same
// normalized text always maps to the same embedding for a given model, so
// there is nothing to invalidate until the embedding model (or its
// dimension) changes, at which point the hash key itself changes and old
// entries simply go unused. Grounded on the RWMutex-guarded map cache in
// TicoDavid-RAGbox.co's internal/cache/embedding.go, with the TTL/sweep
// machinery dropped since it doesn't apply here.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
)

// Cache stores embedding vectors keyed by content hash.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
	Len(ctx context.Context) (int, error)
}

// Key derives the cache key for a piece of text under a given model name and
// dimension. Lowercasing and trimming match how the teacher pack normalizes
// query text before hashing it.
func Key(model string, dimension int, text string) string {
	norm := strings.ToLower(strings.TrimSpace(text))
	h := sha256.Sum256([]byte(norm))
	return fmt.Sprintf("emb:%s:%d:%x", model, dimension, h[:16])
}

// MemoryCache is an in-process, RWMutex-guarded embedding cache. It is the
// default Cache implementation.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]float32
}

// NewMemoryCache creates an empty in-process embedding cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]float32)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.entries[key] = stored
	return nil
}

func (c *MemoryCache) Len(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

var _ Cache = (*MemoryCache)(nil)
