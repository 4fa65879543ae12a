// Package client provides the process-side read-through schema cache and
// the fetchers that feed it, so hot message paths never call the registry
// per message.
package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"schemakeeper/internal/metrics"
	"schemakeeper/internal/regerr"
	"schemakeeper/internal/schema/types"
)

// DefaultFetchTimeout bounds a single cache-miss fetch so a registry outage
// cannot stall message processing indefinitely.
const DefaultFetchTimeout = 5 * time.Second

// Fetcher retrieves a schema record by global ID. Implementations: the local
// store (in-process deployments) and HTTPFetcher (remote registry).
type Fetcher interface {
	FetchSchema(ctx context.Context, id uint32) (*types.SchemaRecord, error)
}

// Cache memoizes schema records permanently: registered schemas are
// immutable, so entries never expire or invalidate. Concurrent misses for
// the same ID collapse into a single fetch.
type Cache struct {
	fetcher Fetcher
	timeout time.Duration
	group   singleflight.Group

	mu      sync.RWMutex
	records map[uint32]*types.SchemaRecord
}

// NewCache creates a cache over the given fetcher. A timeout of zero means
// DefaultFetchTimeout.
func NewCache(fetcher Fetcher, timeout time.Duration) *Cache {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Cache{
		fetcher: fetcher,
		timeout: timeout,
		records: make(map[uint32]*types.SchemaRecord),
	}
}

// Record returns the schema record for an ID, fetching it at most once.
// Fetch failures are not memoized; a later call retries.
func (c *Cache) Record(ctx context.Context, id uint32) (*types.SchemaRecord, error) {
	c.mu.RLock()
	record, ok := c.records[id]
	c.mu.RUnlock()
	if ok {
		metrics.CacheHits.Inc()
		return record, nil
	}

	metrics.CacheMisses.Inc()
	v, err, _ := c.group.Do(strconv.FormatUint(uint64(id), 10), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		record, err := c.fetcher.FetchSchema(fetchCtx, id)
		if err != nil {
			if errors.Is(err, regerr.ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("fetch schema %d: %w: %w", id, err, regerr.ErrRegistryUnavailable)
		}

		c.mu.Lock()
		c.records[id] = record
		c.mu.Unlock()
		return record, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.SchemaRecord), nil
}

// Resolve returns the field model for a schema ID, read through the cache.
func (c *Cache) Resolve(ctx context.Context, id uint32) (*types.FieldModel, error) {
	record, err := c.Record(ctx, id)
	if err != nil {
		return nil, err
	}
	return record.FieldModel(), nil
}

// Len reports how many schemas are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
