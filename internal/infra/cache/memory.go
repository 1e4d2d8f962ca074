package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache LRU кэш в памяти процесса с общим TTL.
type MemoryCache struct {
	mu    sync.Mutex
	items *expirable.LRU[string, []byte]
	locks map[string]time.Time
}

// NewMemory создаёт кэш на size элементов.
func NewMemory(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 256
	}
	return &MemoryCache{
		items: expirable.NewLRU[string, []byte](size, nil, ttl),
		locks: make(map[string]time.Time),
	}
}

// Set задаёт значение. ttl игнорируется, используется TTL кэша.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.items.Add(key, value)
	return nil
}

// Get возвращает значение.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.items.Get(key)
	return v, ok, nil
}

// Once выполняет fn, если ключ не захвачен или его срок истёк.
func (c *MemoryCache) Once(_ context.Context, key string, ttl time.Duration, fn func() error) (bool, error) {
	now := time.Now()
	c.mu.Lock()
	if until, ok := c.locks[key]; ok && now.Before(until) {
		c.mu.Unlock()
		return false, nil
	}
	c.locks[key] = now.Add(ttl)
	c.mu.Unlock()

	if err := fn(); err != nil {
		c.mu.Lock()
		delete(c.locks, key)
		c.mu.Unlock()
		return true, err
	}
	return true, nil
}
