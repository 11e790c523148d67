package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"taskmaster/domain"
)

type backend interface {
	FetchTasks(ctx context.Context, owner string) ([]domain.Task, error)
	FetchCategories(ctx context.Context, owner string) ([]domain.Category, error)
}

// Cache wraps a Store with Redis-backed caching for snapshot reads. The
// change pump evicts a user's entries whenever one of their records
// changes; Redis failures fall back to the backing store.
type Cache struct {
	*Store
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Store); ok {
		c.Store = s
	}
	return c
}

func (c *Cache) FetchTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	var tasks []domain.Task
	if c.loadFromCache(ctx, tasksCacheKey(owner), &tasks) {
		return tasks, nil
	}

	tasks, err := c.base.FetchTasks(ctx, owner)
	if err != nil {
		return nil, err
	}

	c.store(ctx, tasksCacheKey(owner), tasks)
	return tasks, nil
}

func (c *Cache) FetchCategories(ctx context.Context, owner string) ([]domain.Category, error) {
	var categories []domain.Category
	if c.loadFromCache(ctx, categoriesCacheKey(owner), &categories) {
		return categories, nil
	}

	categories, err := c.base.FetchCategories(ctx, owner)
	if err != nil {
		return nil, err
	}

	c.store(ctx, categoriesCacheKey(owner), categories)
	return categories, nil
}

// Evict drops a user's cached snapshots.
func (c *Cache) Evict(ctx context.Context, owner string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(owner), categoriesCacheKey(owner)).Result()
}

func (c *Cache) loadFromCache(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, value any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func tasksCacheKey(owner string) string {
	return "tasks:" + owner
}

func categoriesCacheKey(owner string) string {
	return "categories:" + owner
}
