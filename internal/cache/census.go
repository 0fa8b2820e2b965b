// Package cache keeps the public census listing in Redis.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mroshb/clan_portal/internal/metrics"
	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const censusKey = "portal:census:v1"

// NewRedisClient connects to addr and pings it. It returns nil when addr is
// empty or the server does not answer, and callers run without a cache.
func NewRedisClient(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable, census cache disabled", "addr", addr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// CensusCache stores the village listing with member counts. A nil client
// makes every call a miss.
type CensusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCensusCache(rdb *redis.Client, ttl time.Duration) *CensusCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CensusCache{rdb: rdb, ttl: ttl}
}

func (c *CensusCache) Get(ctx context.Context) ([]models.Village, bool) {
	if c.rdb == nil {
		return nil, false
	}

	raw, err := c.rdb.Get(ctx, censusKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("Census cache read failed", "error", err)
			metrics.CensusCacheTotal.WithLabelValues("error").Inc()
		} else {
			metrics.CensusCacheTotal.WithLabelValues("miss").Inc()
		}
		return nil, false
	}

	var villages []models.Village
	if err := json.Unmarshal(raw, &villages); err != nil {
		logger.Warn("Census cache entry is corrupt", "error", err)
		metrics.CensusCacheTotal.WithLabelValues("error").Inc()
		return nil, false
	}
	metrics.CensusCacheTotal.WithLabelValues("hit").Inc()
	return villages, true
}

func (c *CensusCache) Set(ctx context.Context, villages []models.Village) {
	if c.rdb == nil {
		return
	}

	raw, err := json.Marshal(villages)
	if err != nil {
		logger.Warn("Census cache encode failed", "error", err)
		return
	}
	if err := c.rdb.Set(ctx, censusKey, raw, c.ttl).Err(); err != nil {
		logger.Warn("Census cache write failed", "error", err)
	}
}

func (c *CensusCache) Invalidate(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, censusKey).Err(); err != nil {
		logger.Warn("Census cache invalidation failed", "error", err)
	}
}
