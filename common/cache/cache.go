package cache

import (
	"context"
	"sync"
	"time"

	"github.com/lumenflow/orchestrator/common/logger"
)

// Cache is the read-through cache the services sit on. Get reports a miss
// with ok=false rather than an error so callers can fall back cheaply.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// sweepInterval is how often the janitor evicts expired entries. Expired
// entries are also dropped lazily on Get, so this only bounds memory.
const sweepInterval = time.Minute

// MemoryCache is a process-local Cache for single-instance deployments
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	stop    chan struct{}
	log     *logger.Logger
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache and starts its janitor
func NewMemoryCache(log *logger.Logger) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
		log:     log,
	}
	go c.janitor()
	return c
}

// Get returns the cached value for key, dropping it if the TTL has passed
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key for ttl
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes key; deleting an absent key is a no-op
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Close stops the janitor and drops all entries. The cache must not be
// used after Close.
func (c *MemoryCache) Close() error {
	close(c.stop)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.log.Info("memory cache closed")
	return nil
}

func (c *MemoryCache) janitor() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
