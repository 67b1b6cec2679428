package cache

import (
	"context"
	"sync"
	"time"

	"github.com/scalpsense/scalp-cv/server/models"
	"go.uber.org/zap"
)

type MemoryCache struct {
	items   map[string]*cacheItem
	mutex   sync.RWMutex
	maxSize int
	ttl     time.Duration
	logger  *zap.Logger
	cleanup *time.Ticker
	stopCh  chan struct{}
	hits    int64
	misses  int64
}

type cacheItem struct {
	result    *models.AggregatedResult
	expiresAt time.Time
	lastUsed  time.Time
}

func NewMemoryCache(maxSize int, ttl time.Duration, logger *zap.Logger) *MemoryCache {
	c := &MemoryCache{
		items:   make(map[string]*cacheItem),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	c.cleanup = time.NewTicker(1 * time.Minute)
	go c.cleanupExpired()

	return c
}

func (c *MemoryCache) Set(ctx context.Context, key string, result *models.AggregatedResult) error {
	return c.SetWithTTL(ctx, key, result, c.ttl)
}

func (c *MemoryCache) SetWithTTL(ctx context.Context, key string, result *models.AggregatedResult, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(c.items) >= c.maxSize {
		c.evictLRU()
	}

	c.items[key] = &cacheItem{
		result:    result,
		expiresAt: time.Now().Add(ttl),
		lastUsed:  time.Now(),
	}
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*models.AggregatedResult, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	item, exists := c.items[key]
	if !exists {
		c.misses++
		return nil, ErrCacheMiss
	}

	if time.Now().After(item.expiresAt) {
		delete(c.items, key)
		c.misses++
		return nil, ErrCacheMiss
	}

	item.lastUsed = time.Now()
	c.hits++
	return item.result, nil
}

func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, exists := c.items[key]
	if !exists {
		return false, nil
	}
	return time.Now().Before(item.expiresAt), nil
}

func (c *MemoryCache) Stats() Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return Stats{
		Entries: len(c.items),
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

func (c *MemoryCache) Close() error {
	close(c.stopCh)
	c.cleanup.Stop()

	c.mutex.Lock()
	c.items = make(map[string]*cacheItem)
	c.mutex.Unlock()
	return nil
}

// evictLRU removes the least recently used entry. Caller holds the lock.
func (c *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range c.items {
		if oldestKey == "" || item.lastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.lastUsed
		}
	}

	if oldestKey != "" {
		delete(c.items, oldestKey)
		c.logger.Debug("evicted LRU cache entry", zap.String("key", oldestKey))
	}
}

func (c *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-c.cleanup.C:
			c.removeExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	removed := 0
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug("removed expired cache entries", zap.Int("count", removed))
	}
}
