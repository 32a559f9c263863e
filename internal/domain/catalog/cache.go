package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache holds procedure definitions read through by Catalog. Callers own
// invalidation; entries also expire after the configured TTL.
type Cache interface {
	Get(ctx context.Context, id uuid.UUID) (*Procedure, bool, error)
	Set(ctx context.Context, p *Procedure) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// NoopCache never stores anything; every lookup goes to the repository.
type NoopCache struct{}

func (NoopCache) Get(context.Context, uuid.UUID) (*Procedure, bool, error) { return nil, false, nil }
func (NoopCache) Set(context.Context, *Procedure) error                    { return nil }
func (NoopCache) Delete(context.Context, uuid.UUID) error                  { return nil }

const keyPrefix = "clinic:procedure:"

func cacheKey(id uuid.UUID) string {
	return keyPrefix + id.String()
}

// RedisCache stores procedures as JSON values.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, id uuid.UUID) (*Procedure, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get from cache: %w", err)
	}
	var p Procedure
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("decode cached procedure: %w", err)
	}
	return &p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, p *Procedure) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode procedure: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(p.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set in cache: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, id uuid.UUID) error {
	if err := c.client.Del(ctx, cacheKey(id)).Err(); err != nil {
		return fmt.Errorf("delete from cache: %w", err)
	}
	return nil
}
