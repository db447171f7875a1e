package statuscache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemorySize = 10000

type memoryEntry struct {
	meta   *Metadata
	chunks map[int]struct{}
}

// MemoryCache is the in-process Cache used when no Redis is configured.
// Each session is one LRU entry; writes re-add it, which refreshes the TTL
// for the whole session at once.
type MemoryCache struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *memoryEntry]
}

func NewMemoryCache(maxSessions int, ttl time.Duration) *MemoryCache {
	if maxSessions <= 0 {
		maxSessions = defaultMemorySize
	}
	return &MemoryCache{
		cache: expirable.NewLRU[string, *memoryEntry](maxSessions, nil, ttl),
	}
}

func (c *MemoryCache) entry(uploadID string) *memoryEntry {
	e, ok := c.cache.Get(uploadID)
	if !ok {
		e = &memoryEntry{chunks: make(map[int]struct{})}
	}
	return e
}

func (c *MemoryCache) SaveMetadata(_ context.Context, meta Metadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(meta.UploadID)
	m := meta
	e.meta = &m
	c.cache.Add(meta.UploadID, e)
	return nil
}

func (c *MemoryCache) Metadata(_ context.Context, uploadID string) (Metadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache.Get(uploadID)
	if !ok || e.meta == nil {
		return Metadata{}, ErrNotFound
	}
	return *e.meta, nil
}

func (c *MemoryCache) MarkChunk(_ context.Context, uploadID string, index int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(uploadID)
	e.chunks[index] = struct{}{}
	c.cache.Add(uploadID, e)
	return len(e.chunks), nil
}

func (c *MemoryCache) ReceivedChunks(_ context.Context, uploadID string) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache.Get(uploadID)
	if !ok {
		return []int{}, nil
	}
	out := make([]int, 0, len(e.chunks))
	for n := range e.chunks {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func (c *MemoryCache) Clear(_ context.Context, uploadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Remove(uploadID)
	return nil
}

func (c *MemoryCache) Ping(context.Context) error {
	return nil
}
