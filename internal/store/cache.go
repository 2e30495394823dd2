package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/studygen/studygen/config"
	"github.com/studygen/studygen/tools/web_search/models"
)

// SearchCache caches web search results in Redis so repeated queries in a
// short window do not burn provider quota. A nil *SearchCache is a no-op.
type SearchCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a redis client from config, nil when unconfigured.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	addr := cfg.Addr()
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewSearchCache wraps a redis client; client may be nil.
func NewSearchCache(client *redis.Client, ttl time.Duration) *SearchCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SearchCache{client: client, ttl: ttl}
}

func searchKey(provider, query string) string {
	sum := sha256.Sum256([]byte(query))
	return "studygen:search:" + provider + ":" + hex.EncodeToString(sum[:16])
}

// Get returns cached results for the query, ok=false on miss or any error.
func (c *SearchCache) Get(ctx context.Context, provider, query string) ([]models.Result, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, searchKey(provider, query)).Bytes()
	if err != nil {
		return nil, false
	}
	var out []models.Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// Put stores results for the query. Failures are ignored; the cache is
// best-effort.
func (c *SearchCache) Put(ctx context.Context, provider, query string, results []models.Result) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return
	}
	c.client.Set(ctx, searchKey(provider, query), raw, c.ttl)
}

// TryLock takes a best-effort distributed lock via SETNX. Returns true when
// this process holds the lock. With no redis configured it always succeeds,
// which is fine for single-instance deployments.
func TryLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) bool {
	if client == nil {
		return true
	}
	ok, err := client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return true
	}
	return ok
}
