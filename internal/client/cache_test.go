package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemakeeper/internal/regerr"
	"schemakeeper/internal/schema/types"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   atomic.Int64
	records map[uint32]*types.SchemaRecord
	err     error
	delay   time.Duration
}

func (f *fakeFetcher) FetchSchema(ctx context.Context, id uint32) (*types.SchemaRecord, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("schema %d: %w", id, regerr.ErrNotFound)
	}
	return rec, nil
}

func testRecord(id uint32) *types.SchemaRecord {
	return &types.SchemaRecord{
		ID:      id,
		Subject: "orders",
		Version: 1,
		Format:  types.Avro,
		Fields: []types.FieldDescriptor{
			{Name: "order_id", Type: "string"},
		},
	}
}

func TestCache_FetchesOnceAndMemoizes(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{records: map[uint32]*types.SchemaRecord{1: testRecord(1)}}
	cache := NewCache(fetcher, 0)

	for i := 0; i < 10; i++ {
		model, err := cache.Resolve(ctx, 1)
		require.NoError(t, err)
		require.Len(t, model.Fields, 1)
		assert.Equal(t, "order_id", model.Fields[0].Name)
	}

	assert.Equal(t, int64(1), fetcher.calls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestCache_ConcurrentMissesCollapse(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{
		records: map[uint32]*types.SchemaRecord{1: testRecord(1)},
		delay:   20 * time.Millisecond,
	}
	cache := NewCache(fetcher, 0)

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Record(ctx, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), fetcher.calls.Load())
}

func TestCache_NotFoundPassesThrough(t *testing.T) {
	cache := NewCache(&fakeFetcher{records: map[uint32]*types.SchemaRecord{}}, 0)

	_, err := cache.Record(context.Background(), 42)
	assert.ErrorIs(t, err, regerr.ErrNotFound)
	assert.NotErrorIs(t, err, regerr.ErrRegistryUnavailable)
}

func TestCache_UnavailableOnTimeout(t *testing.T) {
	fetcher := &fakeFetcher{
		records: map[uint32]*types.SchemaRecord{1: testRecord(1)},
		delay:   time.Second,
	}
	cache := NewCache(fetcher, 10*time.Millisecond)

	_, err := cache.Record(context.Background(), 1)
	assert.ErrorIs(t, err, regerr.ErrRegistryUnavailable)
}

func TestCache_FailureNotMemoized(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{
		records: map[uint32]*types.SchemaRecord{1: testRecord(1)},
		err:     errors.New("connection refused"),
	}
	cache := NewCache(fetcher, 0)

	_, err := cache.Record(ctx, 1)
	require.ErrorIs(t, err, regerr.ErrRegistryUnavailable)

	// Registry recovers; the next miss retries and succeeds.
	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.mu.Unlock()

	rec, err := cache.Record(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.ID)
	assert.Equal(t, int64(2), fetcher.calls.Load())
}

func TestCache_CachedEntriesSurviveOutage(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{records: map[uint32]*types.SchemaRecord{1: testRecord(1)}}
	cache := NewCache(fetcher, 0)

	_, err := cache.Record(ctx, 1)
	require.NoError(t, err)

	// Take the registry down; the cached ID still resolves.
	fetcher.mu.Lock()
	fetcher.err = errors.New("registry down")
	fetcher.mu.Unlock()

	rec, err := cache.Record(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.ID)

	// An uncached ID surfaces the outage instead of stalling.
	_, err = cache.Record(ctx, 2)
	assert.ErrorIs(t, err, regerr.ErrRegistryUnavailable)
}
