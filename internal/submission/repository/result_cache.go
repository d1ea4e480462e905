package repository

import (
	"context"
	"time"

	"codearena/internal/common/cache"
)

const (
	resultKeyPrefix       = "submission:result:"
	defaultResultCacheTTL = 30 * time.Minute
)

// ResultCache holds encoded poll snapshots of terminal submissions.
type ResultCache struct {
	cache cache.BasicOps
	ttl   time.Duration
}

func NewResultCache(cacheClient cache.BasicOps, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = defaultResultCacheTTL
	}
	return &ResultCache{cache: cacheClient, ttl: ttl}
}

// Get returns the cached snapshot; an empty string is a miss.
func (c *ResultCache) Get(ctx context.Context, submissionID string) (string, error) {
	if c == nil || c.cache == nil {
		return "", nil
	}
	return c.cache.Get(ctx, resultKeyPrefix+submissionID)
}

func (c *ResultCache) Set(ctx context.Context, submissionID, payload string) error {
	if c == nil || c.cache == nil || payload == "" {
		return nil
	}
	return c.cache.Set(ctx, resultKeyPrefix+submissionID, payload, cache.JitterTTL(c.ttl))
}
