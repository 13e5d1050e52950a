// Package store resolves organism names to opened Zarr containers on the
// local filesystem or in S3-compatible object storage.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/atlasapprox/server/internal/data/zarr"
)

// ErrNotFound is returned when a container or key does not exist.
var ErrNotFound = zarr.ErrNotFound

// Backend opens containers by name. Every call to Open returns a fresh store
// the caller must close.
type Backend interface {
	Open(ctx context.Context, name string) (zarr.Store, error)
	// Names lists the containers available to Open, sorted.
	Names(ctx context.Context) ([]string, error)
}

// ChunkCache holds raw immutable bytes by key.
type ChunkCache interface {
	GetChunk(key string) ([]byte, bool)
	SetChunk(key string, data []byte)
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid container name %q: %w", name, ErrNotFound)
	}
	return nil
}

// WithCache wraps b so stores it opens read through c. A nil cache returns b
// unchanged.
func WithCache(b Backend, c ChunkCache) Backend {
	if c == nil {
		return b
	}
	return &cachingBackend{Backend: b, cache: c}
}

type cachingBackend struct {
	Backend
	cache ChunkCache
}

func (b *cachingBackend) Open(ctx context.Context, name string) (zarr.Store, error) {
	s, err := b.Backend.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachedStore{Store: s, cache: b.cache}, nil
}

type cachedStore struct {
	zarr.Store
	cache ChunkCache
}

func (s *cachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	ck := s.ID() + "|" + key
	if data, ok := s.cache.GetChunk(ck); ok {
		return data, nil
	}
	data, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache.SetChunk(ck, data)
	return data, nil
}
