package cache

import (
	"context"
	"sync"
	"time"

	"github.com/lifekiller/rarbg/internal/models"
)

// Store keeps recent search results keyed by canonical query, so repeated
// feed polls do not spend upstream rate-limit slots.
type Store interface {
	Get(ctx context.Context, key string) ([]models.TorrentResult, bool)
	Set(ctx context.Context, key string, results []models.TorrentResult)
	Len(ctx context.Context) int
}

type Cache struct {
	mu    sync.RWMutex
	items map[string]*CacheItem
	ttl   time.Duration
	now   func() time.Time
}

type CacheItem struct {
	Results    []models.TorrentResult
	Expiration time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		items: make(map[string]*CacheItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *Cache) Len(_ context.Context) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	now := c.now()

	for _, item := range c.items {
		if now.Before(item.Expiration) {
			count++
		}
	}

	return count
}

func (c *Cache) Get(_ context.Context, key string) ([]models.TorrentResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found {
		return nil, false
	}

	if !c.now().Before(item.Expiration) {
		return nil, false
	}

	return item.Results, true
}

func (c *Cache) Set(_ context.Context, key string, results []models.TorrentResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &CacheItem{
		Results:    results,
		Expiration: c.now().Add(c.ttl),
	}
}

// StartJanitor drops expired entries every interval until ctx is done.
func (c *Cache) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.cleanupExpired()
			}
		}
	}()
}

func (c *Cache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if !now.Before(item.Expiration) {
			delete(c.items, key)
		}
	}
}
