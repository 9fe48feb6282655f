package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	mu        sync.Mutex
	calls     int
	err       error
	products  []Product
	suppliers []Supplier
}

func (s *countingSource) Products(context.Context) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]Product(nil), s.products...), nil
}

func (s *countingSource) Suppliers(context.Context) ([]Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Supplier(nil), s.suppliers...), nil
}

func (s *countingSource) setStock(id, stock int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.products {
		if s.products[i].ID == id {
			s.products[i].Stock = stock
		}
	}
}

func (s *countingSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newSource() *countingSource {
	return &countingSource{
		products:  []Product{{ID: 10, Name: "Paper A4", UnitPrice: decimal.RequireFromString("15.00"), Stock: 4, IsActive: true}},
		suppliers: []Supplier{{ID: 3, Name: "Acme", IsActive: true}},
	}
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStoreLoadWithoutCache(t *testing.T) {
	source := newSource()
	store := NewStore(source, nil, quietLogger())
	ctx := context.Background()

	require.False(t, store.Snapshot().Loaded())
	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, snap.Loaded())
	require.Equal(t, "15.00", snap.ResolveUnitPrice(10).StringFixed(2))

	_, err = store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, source.count())

	_, err = store.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, source.count())
}

func TestStoreSharesRedisCacheAcrossInstances(t *testing.T) {
	client := newRedis(t)
	source := newSource()
	ctx := context.Background()

	first := NewStore(source, NewCache(client, time.Minute), quietLogger())
	_, err := first.Load(ctx)
	require.NoError(t, err)

	second := NewStore(source, NewCache(client, time.Minute), quietLogger())
	snap, err := second.Load(ctx)
	require.NoError(t, err)
	require.True(t, snap.Loaded())
	require.Equal(t, 1, source.count())
}

func TestStoreInvalidateRefetchesStock(t *testing.T) {
	client := newRedis(t)
	source := newSource()
	store := NewStore(source, NewCache(client, time.Minute), quietLogger())
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.NoError(t, err)

	source.setStock(10, 9)
	require.NoError(t, store.Invalidate(ctx))

	stale := store.Snapshot()
	require.True(t, stale.Loaded(), "stale snapshot stays readable")

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	p, _ := snap.Product(10)
	require.Equal(t, int64(9), p.Stock)
	require.Equal(t, 2, source.count())
}

func TestStoreWatchSeesOtherInstanceBump(t *testing.T) {
	client := newRedis(t)
	source := newSource()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := NewStore(source, NewCache(client, time.Minute), quietLogger())
	_, err := watcher.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, watcher.Watch(ctx))

	other := NewStore(source, NewCache(client, time.Minute), quietLogger())
	require.NoError(t, other.Invalidate(ctx))

	require.Eventually(t, func() bool {
		watcher.mu.RLock()
		defer watcher.mu.RUnlock()
		return watcher.stale
	}, time.Second, 10*time.Millisecond)
}

func TestStoreLoadErrorKeepsPreviousSnapshot(t *testing.T) {
	source := newSource()
	store := NewStore(source, nil, quietLogger())
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.NoError(t, err)

	source.err = errors.New("backend unavailable")
	snap, err := store.Refresh(ctx)
	require.Error(t, err)
	require.True(t, snap.Loaded())
}

func TestStoreWithoutSource(t *testing.T) {
	store := NewStore(nil, nil, quietLogger())
	_, err := store.Load(context.Background())
	require.Error(t, err)
}

type gatedSource struct {
	*countingSource
	entered chan struct{}
	release chan struct{}
	gate    sync.Once
}

func (s *gatedSource) Products(ctx context.Context) ([]Product, error) {
	blocked := false
	s.gate.Do(func() { blocked = true })
	if blocked {
		close(s.entered)
		<-s.release
	}
	return s.countingSource.Products(ctx)
}

func TestStoreInvalidateDuringLoadKeepsStale(t *testing.T) {
	source := &gatedSource{
		countingSource: newSource(),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	store := NewStore(source, nil, quietLogger())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := store.Load(ctx)
		done <- err
	}()

	<-source.entered
	source.setStock(10, 9)
	require.NoError(t, store.Invalidate(ctx))
	close(source.release)
	require.NoError(t, <-done)

	store.mu.RLock()
	stale := store.stale
	store.mu.RUnlock()
	require.True(t, stale, "invalidation during a load must survive it")
	require.True(t, store.Snapshot().Loaded())

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	p, _ := snap.Product(10)
	require.Equal(t, int64(9), p.Stock)
	require.Equal(t, 2, source.count())

	_, err = store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, source.count())
}
