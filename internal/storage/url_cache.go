package storage

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// URLCache memoizes signed URLs. An entry is served for three quarters of
// the URL lifetime so a cached link always has time left when handed out.
type URLCache struct {
	store ObjectStorage
	ttl   time.Duration
	cache *lru.Cache
	mu    sync.Mutex
	now   func() time.Time
}

type urlEntry struct {
	url       string
	expiresAt time.Time
}

// NewURLCache wraps store, signing URLs valid for ttl.
func NewURLCache(store ObjectStorage, ttl time.Duration, size int) (*URLCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &URLCache{store: store, ttl: ttl, cache: cache, now: time.Now}, nil
}

// SignedURL returns a cached URL for key or signs a new one. An empty key
// yields an empty URL.
func (c *URLCache) SignedURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}

	c.mu.Lock()
	if val, ok := c.cache.Get(key); ok {
		entry := val.(urlEntry)
		if c.now().Before(entry.expiresAt) {
			c.mu.Unlock()
			return entry.url, nil
		}
		c.cache.Remove(key)
	}
	c.mu.Unlock()

	url, err := c.store.SignedURL(ctx, key, c.ttl)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache.Add(key, urlEntry{url: url, expiresAt: c.now().Add(c.ttl * 3 / 4)})
	c.mu.Unlock()
	return url, nil
}

