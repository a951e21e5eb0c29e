package pipeline

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peerflow/matchengine/pkg/models"
)

// MethodStats are the recent match statistics for one payment method.
type MethodStats struct {
	Matches     int64     `json:"matches"`
	Misses      int64     `json:"misses"`
	LastMatched time.Time `json:"last_matched"`
}

// MethodStatsCache caches per-payment-method match statistics. A miss is not
// an error; lookups only ever influence optimization metadata.
type MethodStatsCache interface {
	Get(ctx context.Context, method string) (MethodStats, bool, error)
	Record(ctx context.Context, method string, matched bool) error
}

// MemoryMethodCache is the in-process MethodStatsCache.
type MemoryMethodCache struct {
	mu    sync.RWMutex
	stats map[string]MethodStats
}

func NewMemoryMethodCache() *MemoryMethodCache {
	return &MemoryMethodCache{stats: make(map[string]MethodStats)}
}

func (c *MemoryMethodCache) Get(_ context.Context, method string) (MethodStats, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats, ok := c.stats[method]
	return stats, ok, nil
}

func (c *MemoryMethodCache) Record(_ context.Context, method string, matched bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats[method]
	if matched {
		stats.Matches++
		stats.LastMatched = time.Now()
	} else {
		stats.Misses++
	}
	c.stats[method] = stats
	return nil
}

// RedisMethodCache shares method statistics across processes via redis hashes.
type RedisMethodCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisMethodCache(client *redis.Client, ttl time.Duration) *RedisMethodCache {
	return &RedisMethodCache{client: client, ttl: ttl}
}

func methodStatsKey(method string) string { return "methodstats:" + method }

func (c *RedisMethodCache) Get(ctx context.Context, method string) (MethodStats, bool, error) {
	vals, err := c.client.HGetAll(ctx, methodStatsKey(method)).Result()
	if err != nil {
		return MethodStats{}, false, err
	}
	if len(vals) == 0 {
		return MethodStats{}, false, nil
	}
	var stats MethodStats
	stats.Matches, _ = strconv.ParseInt(vals["matches"], 10, 64)
	stats.Misses, _ = strconv.ParseInt(vals["misses"], 10, 64)
	if ns, err := strconv.ParseInt(vals["last_matched"], 10, 64); err == nil && ns > 0 {
		stats.LastMatched = time.Unix(0, ns)
	}
	return stats, true, nil
}

func (c *RedisMethodCache) Record(ctx context.Context, method string, matched bool) error {
	key := methodStatsKey(method)
	pipe := c.client.TxPipeline()
	if matched {
		pipe.HIncrBy(ctx, key, "matches", 1)
		pipe.HSet(ctx, key, "last_matched", time.Now().UnixNano())
	} else {
		pipe.HIncrBy(ctx, key, "misses", 1)
	}
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// MethodCacheStep looks up recent statistics for the item's payment method.
// The hit/miss outcome lands in optimization metadata and the stats counters;
// it never changes matching behavior.
type MethodCacheStep struct {
	Cache MethodStatsCache
}

func (s *MethodCacheStep) Name() string { return "method_cache" }

func (s *MethodCacheStep) Enrich(ctx context.Context, item *models.QueueItem) (bool, error) {
	_, hit, err := s.Cache.Get(ctx, item.PaymentMethod)
	if err != nil {
		return false, err
	}
	item.Optimization.CacheHit = hit
	return false, nil
}
