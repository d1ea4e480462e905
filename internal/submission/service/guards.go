package service

import (
	"context"
	"strings"
	"time"

	"codearena/internal/common/cache"
	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix  = "submission:idempotency:"
	rateUserKeyPrefix     = "submission:rate:user:"
	rateIPKeyPrefix       = "submission:rate:ip:"
	processingMarker      = "processing"
	defaultIdempotencyTTL = 10 * time.Minute
)

// RateLimitConfig holds throttling configuration.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	IPMax   int           `yaml:"ipMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeouts for calls to backing services.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Storage time.Duration `yaml:"storage"`
}

// requestGuard applies per-user rate limiting and Idempotency-Key reservation on Create.
type requestGuard struct {
	cache          cache.BasicOps
	rateLimit      RateLimitConfig
	idempotencyTTL time.Duration
	timeout        time.Duration
}

func (g *requestGuard) checkRateLimit(ctx context.Context, userID, clientIP string) error {
	if g.cache == nil || g.rateLimit.Window <= 0 || (g.rateLimit.UserMax <= 0 && g.rateLimit.IPMax <= 0) {
		return nil
	}
	ctxCache, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	if g.rateLimit.UserMax > 0 && userID != "" {
		if err := g.checkRateCounter(ctxCache, rateUserKeyPrefix+userID, g.rateLimit.UserMax); err != nil {
			return err
		}
	}
	if g.rateLimit.IPMax > 0 && clientIP != "" {
		if err := g.checkRateCounter(ctxCache, rateIPKeyPrefix+clientIP, g.rateLimit.IPMax); err != nil {
			return err
		}
	}
	return nil
}

func (g *requestGuard) checkRateCounter(ctx context.Context, key string, max int) error {
	count, err := g.cache.Incr(ctx, key)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	if count == 1 {
		// A counter without a TTL never resets, so drop it rather than keep it.
		if err := g.cache.Expire(ctx, key, g.rateLimit.Window); err != nil {
			if delErr := g.cache.Del(ctx, key); delErr != nil {
				logger.Error(ctx, "drop rate counter without ttl failed", zap.String("key", key), zap.Error(delErr))
			}
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit window failed")
		}
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.SubmitTooFrequently)
	}
	return nil
}

// acquire reserves key for userID. It returns the submission id of a finished earlier request
// when the key was already used.
func (g *requestGuard) acquire(ctx context.Context, userID, key string) (bool, string, error) {
	key = strings.TrimSpace(key)
	if key == "" || g.cache == nil {
		return true, "", nil
	}
	cacheKey := idempotencyCacheKey(userID, key)
	ctxCache, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	existing, err := g.cache.Get(ctxCache, cacheKey)
	if err != nil {
		return false, "", pkgerrors.Wrapf(err, pkgerrors.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}

	ok, err := g.cache.SetNX(ctxCache, cacheKey, processingMarker, g.ttl())
	if err != nil {
		return false, "", pkgerrors.Wrapf(err, pkgerrors.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err = g.cache.Get(ctxCache, cacheKey)
	if err != nil {
		return false, "", pkgerrors.Wrapf(err, pkgerrors.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", pkgerrors.New(pkgerrors.SubmissionInProgress)
}

func (g *requestGuard) finalize(ctx context.Context, userID, key, submissionID string, acquired bool) {
	key = strings.TrimSpace(key)
	if !acquired || key == "" || g.cache == nil {
		return
	}
	ctxCache, cancel := withTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.cache.Set(ctxCache, idempotencyCacheKey(userID, key), submissionID, g.ttl()); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (g *requestGuard) release(ctx context.Context, userID, key string, acquired bool) {
	key = strings.TrimSpace(key)
	if !acquired || key == "" || g.cache == nil {
		return
	}
	ctxCache, cancel := withTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.cache.Del(ctxCache, idempotencyCacheKey(userID, key)); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func (g *requestGuard) ttl() time.Duration {
	if g.idempotencyTTL <= 0 {
		return defaultIdempotencyTTL
	}
	return g.idempotencyTTL
}

func idempotencyCacheKey(userID, key string) string {
	return idempotencyKeyPrefix + userID + ":" + key
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
