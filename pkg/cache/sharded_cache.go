// Package cache provides a sharded in-memory TTL cache. It backs the public
// ticker passthrough and the sentiment fetcher, where a short staleness
// window is acceptable.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// ShardedTTLCache stores arbitrary values with a per-entry expiry.
type ShardedTTLCache struct {
	shards [numShards]*shard
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

type entry struct {
	value     any
	expiresAt time.Time
}

// NewShardedTTLCache creates an empty cache.
func NewShardedTTLCache() *ShardedTTLCache {
	c := &ShardedTTLCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard{items: make(map[string]entry)}
	}
	return c
}

func (c *ShardedTTLCache) getShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores value under key for ttl.
func (c *ShardedTTLCache) Set(key string, value any, ttl time.Duration) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
}

// Get retrieves a live value; expired entries read as absent.
func (c *ShardedTTLCache) Get(key string) (any, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Delete removes a key.
func (c *ShardedTTLCache) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns the number of entries across all shards, expired included.
func (c *ShardedTTLCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup evicts expired entries and reports how many were removed.
func (c *ShardedTTLCache) Cleanup() int {
	removed := 0
	now := time.Now()
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.items {
			if now.After(e.expiresAt) {
				delete(s.items, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// StartJanitor evicts expired entries every interval until stop is closed.
func (c *ShardedTTLCache) StartJanitor(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}
