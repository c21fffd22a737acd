package recipes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"grocery-tracker/internal/models"
)

// Cache stores recipe lookups by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]models.Recipe, bool, error)
	Set(ctx context.Context, key string, recipes []models.Recipe, ttl time.Duration) error
}

// RedisCache keeps lookups in Redis as JSON values.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and checks the connection.
func NewRedisCache(ctx context.Context, addr, password string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client, prefix: "recipes:"}, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]models.Recipe, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var recipes []models.Recipe
	if err := json.Unmarshal([]byte(val), &recipes); err != nil {
		return nil, false, err
	}
	return recipes, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, recipes []models.Recipe, ttl time.Duration) error {
	data, err := json.Marshal(recipes)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, ttl).Err()
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

type memoryEntry struct {
	recipes   []models.Recipe
	expiresAt time.Time
}

// MemoryCache is a process-local Cache used when Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Cache. Expired entries are dropped on read.
func (c *MemoryCache) Get(_ context.Context, key string) ([]models.Recipe, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return append([]models.Recipe(nil), e.recipes...), true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, recipes []models.Recipe, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{
		recipes:   append([]models.Recipe(nil), recipes...),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// CachedProvider is a read-through cache in front of a Provider.
// Cache failures are logged and never fail the lookup.
type CachedProvider struct {
	next  Provider
	cache Cache
	ttl   time.Duration
}

// NewCachedProvider wraps next with cache.
func NewCachedProvider(next Provider, cache Cache, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, cache: cache, ttl: ttl}
}

// CacheKey builds the cache key for a lookup.
func CacheKey(ingredients []string, limit int) string {
	return strings.Join(NormalizeIngredients(ingredients), ",") + "|" + strconv.Itoa(limit)
}

// FindByIngredients implements Provider.
func (p *CachedProvider) FindByIngredients(ctx context.Context, ingredients []string, limit int) ([]models.Recipe, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(NormalizeIngredients(ingredients)) == 0 {
		return nil, ErrNoIngredients
	}
	key := CacheKey(ingredients, limit)

	recipes, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("Recipe cache read failed", "key", key, "error", err)
	} else if ok {
		return recipes, nil
	}

	recipes, err = p.next.FindByIngredients(ctx, ingredients, limit)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Set(ctx, key, recipes, p.ttl); err != nil {
		slog.Warn("Recipe cache write failed", "key", key, "error", err)
	}
	return recipes, nil
}
