package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ordershop/pkg/config"
	"github.com/example/ordershop/pkg/models"
	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned when a key is absent from Redis.
var ErrCacheMiss = errors.New("cache miss")

type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(cfg *config.RedisConfig) *RedisRepository {
	return NewRedisRepositoryWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}))
}

func NewRedisRepositoryWithClient(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisRepository) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

func (r *RedisRepository) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func orderCacheKey(id string) string {
	return fmt.Sprintf("order:%s", id)
}

func (r *RedisRepository) CacheOrder(ctx context.Context, order *models.Order, ttl time.Duration) error {
	return r.SetJSON(ctx, orderCacheKey(order.ID), order, ttl)
}

func (r *RedisRepository) GetCachedOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := r.GetJSON(ctx, orderCacheKey(id), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *RedisRepository) InvalidateOrder(ctx context.Context, id string) error {
	return r.Del(ctx, orderCacheKey(id))
}
