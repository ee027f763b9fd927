package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ordershop/pkg/models"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisOrderCache(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	cache := NewRedisRepositoryWithClient(client)

	o := newOrder("a", "user-1", 0)
	o.Version = 1
	data, err := json.Marshal(o)
	require.NoError(t, err)

	mock.ExpectGet("order:a").RedisNil()
	_, err = cache.GetCachedOrder(ctx, "a")
	require.ErrorIs(t, err, ErrCacheMiss)

	mock.ExpectSet("order:a", data, time.Minute).SetVal("OK")
	require.NoError(t, cache.CacheOrder(ctx, o, time.Minute))

	mock.ExpectGet("order:a").SetVal(string(data))
	got, err := cache.GetCachedOrder(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "ORD-a", got.OrderNumber)
	require.Equal(t, "12.00", got.Total.String())
	require.Len(t, got.Items, 1)

	mock.ExpectDel("order:a").SetVal(1)
	require.NoError(t, cache.InvalidateOrder(ctx, "a"))

	require.NoError(t, mock.ExpectationsWereMet())
}

type fakeCache struct {
	mu      sync.Mutex
	orders  map[string]*models.Order
	getErr  error
	setErr  error
	sets    int
	deletes int
	lastTTL time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{orders: make(map[string]*models.Order)}
}

func (c *fakeCache) CacheOrder(_ context.Context, order *models.Order, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.lastTTL = ttl
	if c.setErr != nil {
		return c.setErr
	}
	c.orders[order.ID] = order.Clone()
	return nil
}

func (c *fakeCache) GetCachedOrder(_ context.Context, id string) (*models.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	o, ok := c.orders[id]
	if !ok {
		return nil, ErrCacheMiss
	}
	return o.Clone(), nil
}

func (c *fakeCache) InvalidateOrder(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.orders, id)
	return nil
}

type countingRepo struct {
	*MemoryOrderRepository
	mu    sync.Mutex
	finds int
}

func (r *countingRepo) FindOne(ctx context.Context, lookup OrderLookup) (*models.Order, error) {
	r.mu.Lock()
	r.finds++
	r.mu.Unlock()
	return r.MemoryOrderRepository.FindOne(ctx, lookup)
}

func TestCachedRepositoryReadThrough(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{MemoryOrderRepository: NewMemoryOrderRepository()}
	cache := newFakeCache()
	repo := NewCachedOrderRepository(inner, cache, 5*time.Minute, zap.NewNop())

	require.NoError(t, inner.Create(ctx, newOrder("a", "user-1", 0)))

	got, err := repo.FindOne(ctx, OrderLookup{ID: "a"})
	require.NoError(t, err)
	require.Equal(t, "a", got.ID)
	require.Equal(t, 1, inner.finds)
	require.Equal(t, 5*time.Minute, cache.lastTTL)

	_, err = repo.FindOne(ctx, OrderLookup{ID: "a"})
	require.NoError(t, err)
	require.Equal(t, 1, inner.finds)

	// owner scoping still applies to cached entries
	_, err = repo.FindOne(ctx, OrderLookup{ID: "a", UserID: "user-2"})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.FindOne(ctx, OrderLookup{ID: "a", OrderNumber: "ORD-b"})
	require.ErrorIs(t, err, ErrNotFound)

	// lookups by number bypass the cache
	_, err = repo.FindOne(ctx, OrderLookup{OrderNumber: "ORD-a"})
	require.NoError(t, err)
	require.Equal(t, 2, inner.finds)
}

func TestCachedRepositoryFallsBackOnCacheErrors(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{MemoryOrderRepository: NewMemoryOrderRepository()}
	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")
	repo := NewCachedOrderRepository(inner, cache, time.Minute, zap.NewNop())

	require.NoError(t, repo.Create(ctx, newOrder("a", "user-1", 0)))

	got, err := repo.FindOne(ctx, OrderLookup{ID: "a"})
	require.NoError(t, err)
	require.Equal(t, "a", got.ID)
	require.Equal(t, 1, inner.finds)
}

func TestCachedRepositoryWritesRefreshAndInvalidate(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{MemoryOrderRepository: NewMemoryOrderRepository()}
	cache := newFakeCache()
	repo := NewCachedOrderRepository(inner, cache, time.Minute, zap.NewNop())

	require.NoError(t, repo.Create(ctx, newOrder("a", "user-1", 0)))
	require.Equal(t, 1, cache.sets)

	o, err := repo.FindOne(ctx, OrderLookup{ID: "a"})
	require.NoError(t, err)
	o.Status = models.OrderStatusConfirmed
	require.NoError(t, repo.UpdateState(ctx, o, Precondition{Status: models.OrderStatusPending, Version: 1}))

	cached, err := cache.GetCachedOrder(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusConfirmed, cached.Status)
	require.Equal(t, int64(2), cached.Version)

	stale := o.Clone()
	stale.Status = models.OrderStatusCancelled
	err = repo.UpdateState(ctx, stale, Precondition{Status: models.OrderStatusPending, Version: 1})
	require.ErrorIs(t, err, ErrConflict)
	_, err = cache.GetCachedOrder(ctx, "a")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, repo.Delete(ctx, "a"))
	_, err = repo.FindOne(ctx, OrderLookup{ID: "a"})
	require.ErrorIs(t, err, ErrNotFound)
}
