package catalog

import (
	"container/list"
	"context"
	"sync"

	"github.com/bookery/bookery-service/internal/model"
	"github.com/bookery/bookery-service/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultCacheCapacity = 4096

// Fetcher is the cache-miss path, satisfied by *Client.
type Fetcher interface {
	GetBook(ctx context.Context, catalogID string) (model.BookRecord, error)
}

// Cache memoizes catalog lookups by id. It is an explicitly constructed,
// injected instance shared by all hydration and aggregation work in the
// process. Capacity-bounded LRU, no TTL: record content is idempotent across
// fetches and staleness is tolerated. Concurrent first-fetches for the same
// id are collapsed into one upstream call.
type Cache struct {
	log     *zap.Logger
	fetcher Fetcher

	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	lru      *list.List

	group singleflight.Group
}

type cacheEntry struct {
	id  string
	rec model.BookRecord
}

func NewCache(log *zap.Logger, fetcher Fetcher, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		log:      log.Named("bookcache"),
		fetcher:  fetcher,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// GetOrFetch returns the cached record or fetches it through the miss path.
// Any fetch failure yields nil: one missing book never aborts a batch, and
// failures are not cached, so the next request retries.
func (c *Cache) GetOrFetch(ctx context.Context, catalogID string) *model.BookRecord {
	if rec, ok := c.get(catalogID); ok {
		metrics.CacheHits.Inc()
		return &rec
	}
	metrics.CacheMisses.Inc()

	v, err, _ := c.group.Do(catalogID, func() (interface{}, error) {
		// a concurrent flight may have populated the entry already
		if rec, ok := c.get(catalogID); ok {
			return rec, nil
		}
		rec, err := c.fetcher.GetBook(ctx, catalogID)
		if err != nil {
			return nil, err
		}
		c.add(rec)
		return rec, nil
	})
	if err != nil {
		c.log.Debug("fetch miss", zap.String("catalogId", catalogID), zap.Error(err))
		return nil
	}

	rec := v.(model.BookRecord)
	return &rec
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) get(catalogID string) (model.BookRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[catalogID]
	if !ok {
		return model.BookRecord{}, false
	}
	c.lru.MoveToFront(el)
	return el.Value.(*cacheEntry).rec, true
}

func (c *Cache) add(rec model.BookRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[rec.CatalogID]; ok {
		el.Value.(*cacheEntry).rec = rec
		c.lru.MoveToFront(el)
		return
	}

	c.entries[rec.CatalogID] = c.lru.PushFront(&cacheEntry{id: rec.CatalogID, rec: rec})

	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).id)
		metrics.CacheEvictions.Inc()
	}
}
