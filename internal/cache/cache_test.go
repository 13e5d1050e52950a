package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager(t *testing.T) {
	t.Run("chunkCacheDisabled", func(t *testing.T) {
		m, err := NewManager(Config{QueryCacheSize: 4})
		require.NoError(t, err)
		defer m.Close()

		assert.False(t, m.ChunkCacheEnabled())
		m.SetChunk("a", []byte("x"))
		_, ok := m.GetChunk("a")
		assert.False(t, ok)
	})

	t.Run("chunkRoundTrip", func(t *testing.T) {
		m, err := NewManager(Config{ChunkCacheSizeMB: 8, ChunkTTL: time.Minute, QueryCacheSize: 4})
		require.NoError(t, err)
		defer m.Close()

		m.SetChunk("dir:/x|a/c/0", []byte{1, 2, 3})
		got, ok := m.GetChunk("dir:/x|a/c/0")
		require.True(t, ok)
		assert.Equal(t, []byte{1, 2, 3}, got)
		assert.Equal(t, 1, m.Stats()["chunk_cache_len"])
	})

	t.Run("queryEviction", func(t *testing.T) {
		m, err := NewManager(Config{QueryCacheSize: 2})
		require.NoError(t, err)
		defer m.Close()

		m.SetQuery("a", []byte("1"))
		m.SetQuery("b", []byte("2"))
		m.SetQuery("c", []byte("3"))
		_, ok := m.GetQuery("a")
		assert.False(t, ok)
		got, ok := m.GetQuery("c")
		assert.True(t, ok)
		assert.Equal(t, []byte("3"), got)
	})
}

func TestLoader(t *testing.T) {
	t.Run("loadsOncePerKey", func(t *testing.T) {
		var calls atomic.Int32
		release := make(chan struct{})
		l := NewLoader(func(ctx context.Context, key string) (int, error) {
			calls.Add(1)
			<-release
			return len(key), nil
		})

		var wg sync.WaitGroup
		results := make([]int, 16)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v, err := l.Get(context.Background(), "h_sapiens|gene_expression")
				assert.NoError(t, err)
				results[i] = v
			}(i)
		}
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
		for _, v := range results {
			assert.Equal(t, len("h_sapiens|gene_expression"), v)
		}

		_, err := l.Get(context.Background(), "h_sapiens|gene_expression")
		require.NoError(t, err)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 1, l.Len())
	})

	t.Run("cancelledCallerDoesNotFailOthers", func(t *testing.T) {
		var calls atomic.Int32
		started := make(chan struct{})
		release := make(chan struct{})
		l := NewLoader(func(ctx context.Context, key string) (int, error) {
			calls.Add(1)
			close(started)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-release:
				return 7, nil
			}
		})

		ctx, cancel := context.WithCancel(context.Background())
		firstErr := make(chan error, 1)
		go func() {
			_, err := l.Get(ctx, "m_musculus|gene_expression")
			firstErr <- err
		}()
		<-started

		type result struct {
			v   int
			err error
		}
		second := make(chan result, 1)
		go func() {
			v, err := l.Get(context.Background(), "m_musculus|gene_expression")
			second <- result{v, err}
		}()
		time.Sleep(20 * time.Millisecond)

		cancel()
		assert.ErrorIs(t, <-firstErr, context.Canceled)
		close(release)

		got := <-second
		require.NoError(t, got.err)
		assert.Equal(t, 7, got.v)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 1, l.Len())
	})

	t.Run("errorsNotCached", func(t *testing.T) {
		var calls atomic.Int32
		l := NewLoader(func(ctx context.Context, key string) (string, error) {
			if calls.Add(1) == 1 {
				return "", errors.New("boom")
			}
			return "ok", nil
		})

		_, err := l.Get(context.Background(), "k")
		assert.Error(t, err)
		v, err := l.Get(context.Background(), "k")
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.Equal(t, int32(2), calls.Load())
	})
}
