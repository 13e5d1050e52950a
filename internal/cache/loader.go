package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader is a get-or-load table of immutable values. Concurrent first
// requests for a key share one load; failed loads are not remembered.
// Entries are never invalidated.
type Loader[V any] struct {
	load  func(ctx context.Context, key string) (V, error)
	group singleflight.Group

	mu     sync.RWMutex
	values map[string]V
}

func NewLoader[V any](load func(ctx context.Context, key string) (V, error)) *Loader[V] {
	return &Loader[V]{
		load:   load,
		values: make(map[string]V),
	}
}

// Get returns the value for key, loading it on first use. The shared load
// is detached from the cancellation of whichever caller started it; each
// caller stops waiting when its own ctx is done.
func (l *Loader[V]) Get(ctx context.Context, key string) (V, error) {
	l.mu.RLock()
	v, ok := l.values[key]
	l.mu.RUnlock()
	if ok {
		return v, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (interface{}, error) {
		l.mu.RLock()
		v, ok := l.values[key]
		l.mu.RUnlock()
		if ok {
			return v, nil
		}

		v, err := l.load(loadCtx, key)
		if err != nil {
			return v, err
		}
		l.mu.Lock()
		l.values[key] = v
		l.mu.Unlock()
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Len returns the number of loaded keys.
func (l *Loader[V]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.values)
}
