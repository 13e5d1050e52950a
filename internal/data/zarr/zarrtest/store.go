package zarrtest

import (
	"context"
	"sync"

	"github.com/atlasapprox/server/internal/data/zarr"
)

// CountingStore records how often each key is fetched.
type CountingStore struct {
	zarr.Store

	mu   sync.Mutex
	gets map[string]int
}

func NewCountingStore(s zarr.Store) *CountingStore {
	return &CountingStore{Store: s, gets: make(map[string]int)}
}

func (s *CountingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.gets[key]++
	s.mu.Unlock()
	return s.Store.Get(ctx, key)
}

// Gets returns the number of fetches of key.
func (s *CountingStore) Gets(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[key]
}

// Total returns the number of fetches across all keys.
func (s *CountingStore) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.gets {
		n += c
	}
	return n
}

// Reset clears the counters.
func (s *CountingStore) Reset() {
	s.mu.Lock()
	s.gets = make(map[string]int)
	s.mu.Unlock()
}
