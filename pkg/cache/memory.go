package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value  []byte
	expiry time.Time // zero means no expiry
}

// sweepEvery is the minimum number of writes between expiry sweeps.
const sweepEvery = 256

// MemoryCache is an in-process Cache for single-instance runs and tests.
// Expired entries are dropped on read and by a sweep that runs once the
// writes since the previous sweep reach max(sweepEvery, len(entries)/2).
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	writes  int
	now     func() time.Time
}

// NewMemoryCache builds an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiry.IsZero() && !c.now().Before(e.expiry) {
		delete(c.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	now := c.now()
	if ttl > 0 {
		e.expiry = now.Add(ttl)
	}
	c.entries[key] = e
	c.writes++
	if c.writes >= max(sweepEvery, len(c.entries)/2) {
		c.sweep(now)
	}
	return nil
}

// sweep drops every expired entry. Callers hold c.mu.
func (c *MemoryCache) sweep(now time.Time) {
	for k, e := range c.entries {
		if !e.expiry.IsZero() && !now.Before(e.expiry) {
			delete(c.entries, k)
		}
	}
	c.writes = 0
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *MemoryCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	if e, ok := c.entries[key]; ok {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	c.entries[key] = memoryEntry{value: []byte(strconv.FormatInt(n, 10))}
	return n, nil
}
