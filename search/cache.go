// Package search answers file-catalog queries: a TTL result cache in front
// of one of two interchangeable search strategies, chosen by whether the
// store carries a term index.
package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"filegate"
	"filegate/telemetry"
)

// WildcardChannel scopes a query across every allowed channel.
const WildcardChannel int64 = 0

const defaultCacheTTL = 5 * time.Minute

type cacheKey struct {
	query     string
	page      int
	channelID int64
}

type cacheEntry struct {
	records  []filegate.CatalogRecord
	total    int
	storedAt time.Time
}

// Cache holds recent search result pages keyed by (query, page, channel
// scope). Entries expire after the TTL and are evicted eagerly whenever a
// write touches their scope, so a hit is never stale relative to completed
// catalog writes.
type Cache struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheTTL sets the entry lifetime. Defaults to 5 minutes.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheNow sets the time function for testing.
func WithCacheNow(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// NewCache creates an empty result cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		ttl:     defaultCacheTTL,
		now:     time.Now,
		logger:  slog.Default(),
		entries: make(map[cacheKey]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the cached page and total for the query, if present and
// unexpired. Expired entries are removed on the way out.
func (c *Cache) Lookup(ctx context.Context, query string, page int, channelID int64) ([]filegate.CatalogRecord, int, bool) {
	key := cacheKey{query: NormalizeQuery(query), page: page, channelID: channelID}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		telemetry.RecordCacheLookup(ctx, "miss")
		return nil, 0, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, key)
		telemetry.RecordCacheLookup(ctx, "expired")
		return nil, 0, false
	}

	telemetry.RecordCacheLookup(ctx, "hit")
	return entry.records, entry.total, true
}

// Store caches one result page.
func (c *Cache) Store(query string, page int, channelID int64, records []filegate.CatalogRecord, total int) {
	key := cacheKey{query: NormalizeQuery(query), page: page, channelID: channelID}

	c.mu.Lock()
	c.entries[key] = cacheEntry{records: records, total: total, storedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate evicts every entry whose scope could include the channel's
// records. Wildcard-scoped entries span all channels, so they go whenever
// any channel is invalidated; WildcardChannel clears the whole cache.
func (c *Cache) Invalidate(channelID int64) {
	c.mu.Lock()
	evicted := 0
	for key := range c.entries {
		if channelID == WildcardChannel || key.channelID == channelID || key.channelID == WildcardChannel {
			delete(c.entries, key)
			evicted++
		}
	}
	c.mu.Unlock()

	if evicted > 0 {
		scope := "channel"
		if channelID == WildcardChannel {
			scope = "all"
		}
		telemetry.RecordCacheEvictions(context.Background(), scope, evicted)
		c.logger.Debug("evicted cache entries", "channel_id", channelID, "count", evicted)
	}
}

// Len returns the number of live entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// NormalizeQuery canonicalizes a query for matching and cache keying:
// lowercased with runs of whitespace collapsed to single spaces.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}
