package store

import (
	"context"
	"sync"
	"testing"
	"time"

	natsd "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemakeeper/internal/regerr"
	"schemakeeper/internal/schema/types"
)

func setupTestNATS(t *testing.T) (nats.KeyValue, nats.KeyValue) {
	t.Helper()

	opts := &natsd.Options{
		Port:      -1, // random port
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	ns, err := natsd.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	t.Cleanup(ns.Shutdown)

	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("NATS server failed to start")
	}

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := nc.JetStream()
	require.NoError(t, err)

	kvSchemas, err := js.CreateKeyValue(&nats.KeyValueConfig{Bucket: "schemas"})
	require.NoError(t, err)
	kvConfig, err := js.CreateKeyValue(&nats.KeyValueConfig{Bucket: "config"})
	require.NoError(t, err)

	return kvSchemas, kvConfig
}

func TestNATSKV_PutAndGet(t *testing.T) {
	ctx := context.Background()
	kvSchemas, _ := setupTestNATS(t)
	st := NewNATSKV(kvSchemas)

	rec := record(1, "orders", 1)
	require.NoError(t, st.Put(ctx, rec))

	byID, err := st.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, rec.Subject, byID.Subject)
	assert.Equal(t, rec.Hash, byID.Hash)

	bySubject, err := st.GetBySubjectVersion(ctx, "orders", 1)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, bySubject.ID)

	_, err = st.GetByID(ctx, 99)
	assert.ErrorIs(t, err, regerr.ErrNotFound)
}

func TestNATSKV_PutConflicts(t *testing.T) {
	ctx := context.Background()
	kvSchemas, _ := setupTestNATS(t)
	st := NewNATSKV(kvSchemas)

	require.NoError(t, st.Put(ctx, record(1, "orders", 1)))

	var conflict *regerr.ConflictError
	err := st.Put(ctx, record(2, "orders", 1))
	assert.ErrorAs(t, err, &conflict)
}

func TestNATSKV_HistoryAndLatest(t *testing.T) {
	ctx := context.Background()
	kvSchemas, _ := setupTestNATS(t)
	st := NewNATSKV(kvSchemas)

	require.NoError(t, st.Put(ctx, record(1, "orders", 1)))
	require.NoError(t, st.Put(ctx, record(2, "orders", 2)))
	require.NoError(t, st.Put(ctx, record(3, "payments", 1)))

	history, err := st.History(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, uint32(1), history[0].Version)
	assert.Equal(t, uint32(2), history[1].Version)

	latest, err := st.Latest(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), latest.Version)

	require.NoError(t, st.SetActive(ctx, "orders", 2, false))
	latest, err = st.Latest(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), latest.Version)

	subjects, err := st.Subjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "payments"}, subjects)
}

func TestNATSKV_AllocatorSequence(t *testing.T) {
	ctx := context.Background()
	kvSchemas, _ := setupTestNATS(t)
	st := NewNATSKV(kvSchemas)

	for want := uint32(1); want <= 10; want++ {
		id, err := st.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	// A second store over the same bucket continues the sequence: the
	// high-water mark is persisted, never reset.
	st2 := NewNATSKV(kvSchemas)
	id, err := st2.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(11), id)
}

func TestNATSKV_AllocatorConcurrent(t *testing.T) {
	ctx := context.Background()
	kvSchemas, _ := setupTestNATS(t)
	st := NewNATSKV(kvSchemas)

	const workers = 8
	const perWorker = 10

	var mu sync.Mutex
	seen := make(map[uint32]bool)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id, err := st.Next(ctx)
				assert.NoError(t, err)
				mu.Lock()
				assert.False(t, seen[id], "duplicate ID %d", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestNATSConfig_Modes(t *testing.T) {
	ctx := context.Background()
	_, kvConfig := setupTestNATS(t)
	cfg := NewNATSConfig(kvConfig)

	_, ok, err := cfg.Mode(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cfg.SetMode(ctx, "orders", types.Full))
	mode, ok, err := cfg.Mode(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.Full, mode)

	require.NoError(t, cfg.SetMode(ctx, "global", types.None))
	mode, ok, err = cfg.Mode(ctx, "global")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.None, mode)
}

func TestNATSConfig_Groups(t *testing.T) {
	ctx := context.Background()
	_, kvConfig := setupTestNATS(t)
	cfg := NewNATSConfig(kvConfig)

	_, err := cfg.Group(ctx, "billing")
	assert.ErrorIs(t, err, regerr.ErrNotFound)

	require.NoError(t, cfg.AddToGroup(ctx, "billing", "orders"))
	require.NoError(t, cfg.AddToGroup(ctx, "billing", "invoices"))
	require.NoError(t, cfg.AddToGroup(ctx, "billing", "orders"))

	members, err := cfg.Group(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, []string{"invoices", "orders"}, members)

	groups, err := cfg.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"billing"}, groups)
}
