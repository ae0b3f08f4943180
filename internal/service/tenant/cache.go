package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
)

type cachedTenant struct {
	tenant  domain.Tenant
	expires time.Time
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cachedTenant
	now     func() time.Time
}

// NewMemoryCache returns an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cachedTenant), now: time.Now}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, digest string) (domain.Tenant, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[digest]
	if !ok {
		return domain.Tenant{}, false, nil
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, digest)
		return domain.Tenant{}, false, nil
	}
	return entry.tenant, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, digest string, tenant domain.Tenant, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[digest] = cachedTenant{tenant: tenant, expires: c.now().Add(ttl)}
	return nil
}

// RedisCache shares resolved tenants between API replicas.
type RedisCache struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisCache wraps an existing redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "tally:tenant:", timeout: 250 * time.Millisecond}
}

type redisTenant struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	APIKeyHash string    `json:"apiKeyHash"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, digest string) (domain.Tenant, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	data, err := c.client.Get(ctx, c.prefix+digest).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Tenant{}, false, nil
	}
	if err != nil {
		return domain.Tenant{}, false, err
	}
	var cached redisTenant
	if err := json.Unmarshal(data, &cached); err != nil {
		return domain.Tenant{}, false, err
	}
	return domain.Tenant(cached), true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, digest string, tenant domain.Tenant, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	data, err := json.Marshal(redisTenant(tenant))
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+digest, data, ttl).Err()
}
