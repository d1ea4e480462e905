package cache

import (
	"context"
	"time"
)

// Cache is the subset of redis used by the service.
type Cache interface {
	BasicOps
	HashOps
	ZSetOps
	LockOps

	// Pipeline runs fn inside a MULTI/EXEC transaction.
	Pipeline(ctx context.Context, fn func(pipe Pipeliner) error) error

	Ping(ctx context.Context) error
	Close() error
}

// BasicOps are plain string key operations. Get returns "" on a missing key.
type BasicOps interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

// HashOps operate on redis hashes.
type HashOps interface {
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// ZMember is a sorted-set member with its score.
type ZMember struct {
	Score  float64
	Member string
}

// ZSetOps operate on sorted sets.
type ZSetOps interface {
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)
	ZCard(ctx context.Context, key string) (int64, error)
}

// LockOps implement a best-effort single-holder lock.
type LockOps interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Pipeliner queues writes for Pipeline.
type Pipeliner interface {
	Del(keys ...string)
	Expire(key string, ttl time.Duration)
	ZAdd(key string, members ...ZMember)
	HSet(key string, values map[string]interface{})
}
