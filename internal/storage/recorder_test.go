package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/neuraflow/internal/config"
	"github.com/your-org/neuraflow/internal/models"
)

// memStore is an in-memory EntryStore that can be told to fail.
type memStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]models.Entry
	batches [][]models.Entry
	fail    error
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[uuid.UUID]models.Entry)}
}

func (m *memStore) InsertEntries(_ context.Context, entries []models.Entry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	m.batches = append(m.batches, entries)
	n := 0
	for _, e := range entries {
		if _, ok := m.entries[e.EventID]; !ok {
			m.entries[e.EventID] = e
			n++
		}
	}
	return n, nil
}

func (m *memStore) TotalEntries(context.Context, string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}

func (m *memStore) RecentEntries(context.Context, string, int) ([]models.Entry, error) {
	return nil, nil
}

func (m *memStore) EntryByEventID(context.Context, uuid.UUID) (*models.Entry, error) {
	return nil, ErrNotFound
}

func (m *memStore) Statistics(context.Context, string, int, time.Time) (*models.Statistics, error) {
	return &models.Statistics{}, nil
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

func (m *memStore) setFail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func storageCfg(batchSize int, batching bool) config.StorageConfig {
	return config.StorageConfig{
		BatchInserts:  &batching,
		BatchSize:     batchSize,
		FlushInterval: 5 * time.Second,
	}
}

func entryN(n int) models.Entry {
	return models.Entry{EventID: uuid.New(), CameraID: "door", TotalEntries: int64(n)}
}

func TestRecorderFlushesFullBatch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	r := NewRecorder(store, storageCfg(3, true), clock.NewMock())

	require.NoError(t, r.Record(ctx, entryN(1)))
	require.NoError(t, r.Record(ctx, entryN(2)))
	assert.Equal(t, 0, store.count())
	assert.Equal(t, 2, r.Pending())

	require.NoError(t, r.Record(ctx, entryN(3)))
	assert.Equal(t, 3, store.count())
	assert.Equal(t, 0, r.Pending())
	require.Len(t, store.batches, 1)
}

func TestRecorderWithoutBatchingWritesImmediately(t *testing.T) {
	store := newMemStore()
	r := NewRecorder(store, storageCfg(10, false), clock.NewMock())

	require.NoError(t, r.Record(context.Background(), entryN(1)))
	assert.Equal(t, 1, store.count())
}

func TestRecorderRetainsFailedBatch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.setFail(errors.New("db down"))
	r := NewRecorder(store, storageCfg(2, true), clock.NewMock())

	require.NoError(t, r.Record(ctx, entryN(1)))
	err := r.Record(ctx, entryN(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, 2, r.Pending())

	store.setFail(nil)
	require.NoError(t, r.Close(ctx))
	assert.Equal(t, 2, store.count())
	assert.Equal(t, 0, r.Pending())
}

func TestRecorderCapsBuffer(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.setFail(errors.New("db down"))
	r := NewRecorder(store, storageCfg(1, true), clock.NewMock())

	for i := range 150 {
		_ = r.Record(ctx, entryN(i))
	}
	assert.LessOrEqual(t, r.Pending(), 101)
}

func TestRecorderRunFlushesOnInterval(t *testing.T) {
	clk := clock.NewMock()
	store := newMemStore()
	r := NewRecorder(store, storageCfg(10, true), clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.NoError(t, r.Record(ctx, entryN(1)))
	// give Run a chance to register its ticker before advancing time
	require.Eventually(t, func() bool {
		clk.Add(5 * time.Second)
		return store.count() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, r.Record(ctx, entryN(2)))
	cancel()
	<-done
	assert.Equal(t, 2, store.count(), "final flush on shutdown")
}

func TestRecorderDuplicateEventsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	r := NewRecorder(store, storageCfg(1, true), clock.NewMock())

	e := entryN(1)
	require.NoError(t, r.Record(ctx, e))
	require.NoError(t, r.Record(ctx, e))
	assert.Equal(t, 1, store.count())
}
