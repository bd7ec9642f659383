// Package idempotency implements the gateway's idempotency cache (C5): a
// TTL map from a client-supplied key to a finalized, successful
// ChatResponse. Expiration is lazy (checked on read) per spec.md §4.5 —
// no background sweeper is required, though one is provided for bounded
// memory growth under §9's teardown contract.
package idempotency

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maxpetrusenko/deterministic-llm-service/internal/chatmodel"
)

// DefaultTTL matches spec.md §4.5's default.
const DefaultTTL = time.Hour

type entry struct {
	response  chatmodel.ChatResponse
	insertedAt time.Time
}

// Cache is the gateway's process-wide idempotency store.
type Cache struct {
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]entry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Cache with the given TTL (DefaultTTL if zero) and starts a
// background sweeper that bounds memory growth from abandoned keys; lazy
// expiration on Get/Has is still authoritative for correctness.
func New(ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]entry),
		stopCh:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the cached response for key iff it has not exceeded TTL.
func (c *Cache) Get(key string) (chatmodel.ChatResponse, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return chatmodel.ChatResponse{}, false
	}
	if time.Since(e.insertedAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return chatmodel.ChatResponse{}, false
	}
	return e.response, true
}

// Has reports presence under the same freshness rule as Get.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores response under key, overwriting any existing entry.
func (c *Cache) Set(key string, response chatmodel.ChatResponse) {
	c.mu.Lock()
	c.entries[key] = entry{response: response, insertedAt: time.Now()}
	c.mu.Unlock()
}

func (c *Cache) sweepLoop() {
	interval := c.ttl / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	expired := 0
	for k, e := range c.entries {
		if now.Sub(e.insertedAt) > c.ttl {
			delete(c.entries, k)
			expired++
		}
	}
	if expired > 0 {
		c.logger.Debug("swept expired idempotency entries",
			zap.Int("expired", expired),
			zap.Int("remaining", len(c.entries)))
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
