package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"codearena/internal/common/cache"
)

const (
	disqualifiedKeyPrefix   = "contest:disqualified:"
	defaultDisqualifiedTTL  = 10 * time.Minute
	defaultLocalEntryTTL    = 30 * time.Second
	defaultDisqualifiedWait = 200 * time.Millisecond
)

// DisqualificationCache answers disqualification lookups from the local LRU, then redis.
type DisqualificationCache struct {
	local        *LRUCache[bool]
	redis        cache.BasicOps
	redisTTL     time.Duration
	localTTL     time.Duration
	redisTimeout time.Duration
}

func NewDisqualificationCache(local *LRUCache[bool], redis cache.BasicOps, redisTTL, redisTimeout time.Duration) *DisqualificationCache {
	if redisTTL <= 0 {
		redisTTL = defaultDisqualifiedTTL
	}
	if redisTimeout <= 0 {
		redisTimeout = defaultDisqualifiedWait
	}
	return &DisqualificationCache{
		local:        local,
		redis:        redis,
		redisTTL:     redisTTL,
		localTTL:     defaultLocalEntryTTL,
		redisTimeout: redisTimeout,
	}
}

// Lookup returns (flag, found). Redis errors are reported so the caller can fall back to the database.
func (c *DisqualificationCache) Lookup(ctx context.Context, userID string, contestID int64) (bool, bool, error) {
	key := disqualifiedKey(userID, contestID)
	if val, ok := c.local.Get(key); ok {
		return val, true, nil
	}
	if c.redis == nil {
		return false, false, nil
	}
	ctxCache, cancel := context.WithTimeout(ctx, c.redisTimeout)
	defer cancel()
	raw, err := c.redis.Get(ctxCache, key)
	if err != nil {
		return false, false, err
	}
	if raw == "" {
		return false, false, nil
	}
	flag, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, nil
	}
	c.local.Set(key, flag, c.localTTL)
	return flag, true, nil
}

// Store records the flag in both tiers.
func (c *DisqualificationCache) Store(ctx context.Context, userID string, contestID int64, disqualified bool) {
	key := disqualifiedKey(userID, contestID)
	c.local.Set(key, disqualified, c.localTTL)
	if c.redis == nil {
		return
	}
	ctxCache, cancel := context.WithTimeout(ctx, c.redisTimeout)
	defer cancel()
	_ = c.redis.Set(ctxCache, key, strconv.FormatBool(disqualified), cache.JitterTTL(c.redisTTL))
}

// Invalidate drops the entry from both tiers.
func (c *DisqualificationCache) Invalidate(ctx context.Context, userID string, contestID int64) {
	c.InvalidateLocal(userID, contestID)
	if c.redis == nil {
		return
	}
	ctxCache, cancel := context.WithTimeout(ctx, c.redisTimeout)
	defer cancel()
	_ = c.redis.Del(ctxCache, disqualifiedKey(userID, contestID))
}

// InvalidateLocal drops only this replica's entry.
func (c *DisqualificationCache) InvalidateLocal(userID string, contestID int64) {
	c.local.Delete(disqualifiedKey(userID, contestID))
}

func disqualifiedKey(userID string, contestID int64) string {
	return fmt.Sprintf("%s%d:%s", disqualifiedKeyPrefix, contestID, userID)
}
