package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/bookery/bookery-service/internal/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls: make(map[string]int),
		fail:  make(map[string]bool),
	}
}

func (f *fakeFetcher) GetBook(_ context.Context, catalogID string) (model.BookRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[catalogID]++
	if f.fail[catalogID] {
		return model.BookRecord{}, errors.New("upstream down")
	}
	return model.BookRecord{CatalogID: catalogID, Title: "Book " + catalogID}, nil
}

func (f *fakeFetcher) callCount(catalogID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[catalogID]
}

func TestCache_GetOrFetch(t *testing.T) {
	t.Parallel()

	t.Run("memoizes by id", func(t *testing.T) {
		t.Parallel()
		fetcher := newFakeFetcher()
		cache := NewCache(zap.NewExample(), fetcher, 0)

		for i := 0; i < 5; i++ {
			rec := cache.GetOrFetch(context.Background(), "b1")
			require.NotNil(t, rec)
			require.Equal(t, "Book b1", rec.Title)
		}
		require.Equal(t, 1, fetcher.callCount("b1"))
	})

	t.Run("single flight for concurrent first fetches", func(t *testing.T) {
		t.Parallel()
		fetcher := newFakeFetcher()
		cache := NewCache(zap.NewExample(), fetcher, 0)

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				require.NotNil(t, cache.GetOrFetch(context.Background(), "b1"))
			}()
		}
		wg.Wait()
		require.Equal(t, 1, fetcher.callCount("b1"))
	})

	t.Run("failures yield nil and are not cached", func(t *testing.T) {
		t.Parallel()
		fetcher := newFakeFetcher()
		fetcher.fail["b1"] = true
		cache := NewCache(zap.NewExample(), fetcher, 0)

		require.Nil(t, cache.GetOrFetch(context.Background(), "b1"))
		require.Equal(t, 0, cache.Len())

		// upstream recovers; the next request refetches
		fetcher.mu.Lock()
		fetcher.fail["b1"] = false
		fetcher.mu.Unlock()
		require.NotNil(t, cache.GetOrFetch(context.Background(), "b1"))
		require.Equal(t, 2, fetcher.callCount("b1"))
	})

	t.Run("evicts least recently used beyond capacity", func(t *testing.T) {
		t.Parallel()
		fetcher := newFakeFetcher()
		cache := NewCache(zap.NewExample(), fetcher, 2)

		require.NotNil(t, cache.GetOrFetch(context.Background(), "b1"))
		require.NotNil(t, cache.GetOrFetch(context.Background(), "b2"))
		// touch b1 so b2 becomes the eviction candidate
		require.NotNil(t, cache.GetOrFetch(context.Background(), "b1"))
		require.NotNil(t, cache.GetOrFetch(context.Background(), "b3"))

		require.Equal(t, 2, cache.Len())
		require.NotNil(t, cache.GetOrFetch(context.Background(), "b2"))
		require.Equal(t, 2, fetcher.callCount("b2"))
		require.Equal(t, 1, fetcher.callCount("b1"))
	})
}
