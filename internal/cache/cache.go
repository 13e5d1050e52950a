// Package cache provides caching for raw container chunks, HTTP responses
// and lazily loaded lookup tables.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	// ChunkCacheSizeMB bounds the raw chunk cache; 0 disables it.
	ChunkCacheSizeMB int
	ChunkTTL         time.Duration
	QueryCacheSize   int
}

// Manager manages the chunk and query caches.
type Manager struct {
	chunkCache *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{}

	if cfg.ChunkCacheSizeMB > 0 {
		ttl := cfg.ChunkTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		// Few shards so a single shard can hold a multi-megabyte chunk.
		chunkCacheConfig := bigcache.Config{
			Shards:             64,
			LifeWindow:         ttl,
			CleanWindow:        ttl / 2,
			MaxEntriesInWindow: 10000,
			MaxEntrySize:       256 * 1024,
			HardMaxCacheSize:   cfg.ChunkCacheSizeMB,
			Verbose:            false,
		}
		chunkCache, err := bigcache.New(context.Background(), chunkCacheConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create chunk cache: %w", err)
		}
		m.chunkCache = chunkCache
	}

	size := cfg.QueryCacheSize
	if size <= 0 {
		size = 1
	}
	queryCache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}
	m.queryCache = queryCache

	return m, nil
}

// ChunkCacheEnabled reports whether raw chunks are cached.
func (m *Manager) ChunkCacheEnabled() bool {
	return m.chunkCache != nil
}

// GetChunk retrieves raw chunk bytes.
func (m *Manager) GetChunk(key string) ([]byte, bool) {
	if m.chunkCache == nil {
		return nil, false
	}
	data, err := m.chunkCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetChunk stores raw chunk bytes. Entries larger than a shard are dropped.
func (m *Manager) SetChunk(key string, data []byte) {
	if m.chunkCache == nil {
		return
	}
	_ = m.chunkCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"query_cache_len": m.queryCache.Len(),
	}
	if m.chunkCache != nil {
		s := m.chunkCache.Stats()
		stats["chunk_cache_len"] = m.chunkCache.Len()
		stats["chunk_cache_cap"] = m.chunkCache.Capacity()
		stats["chunk_cache_hits"] = s.Hits
		stats["chunk_cache_misses"] = s.Misses
	}
	return stats
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	if m.chunkCache == nil {
		return nil
	}
	return m.chunkCache.Close()
}
