package repository

import (
	"context"
	"errors"
	"time"

	"github.com/example/ordershop/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// OrderCache is the subset of RedisRepository the cached repository needs.
type OrderCache interface {
	CacheOrder(ctx context.Context, order *models.Order, ttl time.Duration) error
	GetCachedOrder(ctx context.Context, id string) (*models.Order, error)
	InvalidateOrder(ctx context.Context, id string) error
}

// CachedOrderRepository is a read-through cache for lookups by id. Writes go
// to the wrapped repository first; the cache entry is refreshed on success and
// dropped on any failure. Cache errors never fail a call.
type CachedOrderRepository struct {
	inner  OrderRepository
	cache  OrderCache
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group
}

func NewCachedOrderRepository(inner OrderRepository, cache OrderCache, ttl time.Duration, logger *zap.Logger) *CachedOrderRepository {
	return &CachedOrderRepository{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

func (r *CachedOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if err := r.inner.Create(ctx, order); err != nil {
		return err
	}
	r.store(ctx, order)
	return nil
}

func (r *CachedOrderRepository) FindOne(ctx context.Context, lookup OrderLookup) (*models.Order, error) {
	if lookup.ID == "" {
		return r.inner.FindOne(ctx, lookup)
	}

	order, err := r.cache.GetCachedOrder(ctx, lookup.ID)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			r.logger.Warn("Order cache read failed", zap.String("order_id", lookup.ID), zap.Error(err))
		}
		order, err = r.load(ctx, lookup.ID)
		if err != nil {
			return nil, err
		}
	}

	if lookup.UserID != "" && order.UserID != lookup.UserID {
		return nil, ErrNotFound
	}
	if lookup.OrderNumber != "" && order.OrderNumber != lookup.OrderNumber {
		return nil, ErrNotFound
	}
	return order, nil
}

// load collapses concurrent misses for the same id into one database read.
func (r *CachedOrderRepository) load(ctx context.Context, id string) (*models.Order, error) {
	v, err, _ := r.group.Do(id, func() (interface{}, error) {
		order, err := r.inner.FindOne(ctx, OrderLookup{ID: id})
		if err != nil {
			return nil, err
		}
		r.store(ctx, order)
		return order, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Order).Clone(), nil
}

func (r *CachedOrderRepository) List(ctx context.Context, filter OrderFilter, offset, limit int) ([]models.Order, int64, error) {
	return r.inner.List(ctx, filter, offset, limit)
}

func (r *CachedOrderRepository) UpdateState(ctx context.Context, order *models.Order, expect Precondition) error {
	if err := r.inner.UpdateState(ctx, order, expect); err != nil {
		r.invalidate(ctx, order.ID)
		return err
	}
	r.store(ctx, order)
	return nil
}

func (r *CachedOrderRepository) Delete(ctx context.Context, id string) error {
	err := r.inner.Delete(ctx, id)
	r.invalidate(ctx, id)
	return err
}

func (r *CachedOrderRepository) Stats(ctx context.Context) (OrderStats, error) {
	return r.inner.Stats(ctx)
}

func (r *CachedOrderRepository) store(ctx context.Context, order *models.Order) {
	if err := r.cache.CacheOrder(ctx, order, r.ttl); err != nil {
		r.logger.Warn("Order cache write failed", zap.String("order_id", order.ID), zap.Error(err))
		r.invalidate(ctx, order.ID)
	}
}

func (r *CachedOrderRepository) invalidate(ctx context.Context, id string) {
	if err := r.cache.InvalidateOrder(ctx, id); err != nil {
		r.logger.Warn("Order cache invalidation failed", zap.String("order_id", id), zap.Error(err))
	}
}
