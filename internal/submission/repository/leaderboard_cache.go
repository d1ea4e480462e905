package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"codearena/internal/common/cache"
)

const (
	leaderboardKeyPrefix   = "leaderboard:"
	defaultLeaderboardTTL  = 10 * time.Minute
	defaultLeaderboardLock = 10 * time.Second
	globalScope            = "global"
)

// LeaderboardScope names a standings table: the global one or one contest.
func LeaderboardScope(contestID *int64) string {
	if contestID == nil {
		return globalScope
	}
	return "contest:" + strconv.FormatInt(*contestID, 10)
}

// LeaderboardCache keeps standings in a sorted set with per-user counters in a hash.
// A marker key distinguishes an empty table from a missing one. A generation counter per
// scope lets a rebuild detect an invalidation that landed while it was reading SQL.
type LeaderboardCache struct {
	cache   cache.Cache
	ttl     time.Duration
	lockTTL time.Duration
}

func NewLeaderboardCache(cacheClient cache.Cache, ttl time.Duration) *LeaderboardCache {
	if ttl <= 0 {
		ttl = defaultLeaderboardTTL
	}
	return &LeaderboardCache{cache: cacheClient, ttl: ttl, lockTTL: defaultLeaderboardLock}
}

// Load returns the cached standings ranked by points, then user id. ok is false on a miss.
func (c *LeaderboardCache) Load(ctx context.Context, scope string) ([]LeaderboardRow, bool, error) {
	if c == nil || c.cache == nil {
		return nil, false, nil
	}
	marker, err := c.cache.Get(ctx, markerKey(scope))
	if err != nil || marker == "" {
		return nil, false, err
	}
	members, err := c.cache.ZRevRangeWithScores(ctx, scoresKey(scope), 0, -1)
	if err != nil {
		return nil, false, err
	}
	counters, err := c.cache.HGetAll(ctx, countersKey(scope))
	if err != nil {
		return nil, false, err
	}

	rows := make([]LeaderboardRow, 0, len(members))
	for _, m := range members {
		row := LeaderboardRow{UserID: m.Member, TotalPoints: int(m.Score)}
		row.CompletedSubmissions, row.TotalSubmissions = parseCounters(counters[m.Member])
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].TotalPoints != rows[j].TotalPoints {
			return rows[i].TotalPoints > rows[j].TotalPoints
		}
		return rows[i].UserID < rows[j].UserID
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, true, nil
}

// Generation returns the invalidation counter of scope. Read it before aggregating standings
// and hand it to Store.
func (c *LeaderboardCache) Generation(ctx context.Context, scope string) (int64, error) {
	if c == nil || c.cache == nil {
		return 0, nil
	}
	raw, err := c.cache.Get(ctx, generationKey(scope))
	if err != nil || raw == "" {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Store replaces the cached standings of scope. The table is published only if no Invalidate
// ran since generation was read; otherwise the marker is dropped again and false is returned.
func (c *LeaderboardCache) Store(ctx context.Context, scope string, generation int64, rows []LeaderboardRow) (bool, error) {
	if c == nil || c.cache == nil {
		return false, nil
	}
	ttl := cache.JitterTTL(c.ttl)
	err := c.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		pipe.Del(scoresKey(scope), countersKey(scope))
		if len(rows) == 0 {
			return nil
		}
		members := make([]cache.ZMember, 0, len(rows))
		counters := make(map[string]interface{}, len(rows))
		for _, row := range rows {
			members = append(members, cache.ZMember{Score: float64(row.TotalPoints), Member: row.UserID})
			counters[row.UserID] = formatCounters(row.CompletedSubmissions, row.TotalSubmissions)
		}
		pipe.ZAdd(scoresKey(scope), members...)
		pipe.HSet(countersKey(scope), counters)
		pipe.Expire(scoresKey(scope), ttl)
		pipe.Expire(countersKey(scope), ttl)
		return nil
	})
	if err != nil {
		return false, err
	}
	if err := c.cache.Set(ctx, markerKey(scope), "1", ttl); err != nil {
		return false, err
	}

	// Invalidate bumps the generation before deleting the marker, so either the bump is seen
	// here or its delete lands after the Set above.
	current, err := c.Generation(ctx, scope)
	if err == nil && current == generation {
		return true, nil
	}
	if delErr := c.cache.Del(ctx, markerKey(scope)); delErr != nil {
		return false, errors.Join(err, delErr)
	}
	return false, err
}

// Invalidate drops the markers of scopes so the next read rebuilds them.
func (c *LeaderboardCache) Invalidate(ctx context.Context, scopes ...string) error {
	if c == nil || c.cache == nil || len(scopes) == 0 {
		return nil
	}
	var errs []error
	keys := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if _, err := c.cache.Incr(ctx, generationKey(scope)); err != nil {
			errs = append(errs, err)
		}
		keys = append(keys, markerKey(scope))
	}
	if err := c.cache.Del(ctx, keys...); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Lock guards a rebuild so only one replica scans the submissions table at a time.
func (c *LeaderboardCache) Lock(ctx context.Context, scope string) (bool, error) {
	if c == nil || c.cache == nil {
		return false, nil
	}
	return c.cache.TryLock(ctx, lockKey(scope), c.lockTTL)
}

func (c *LeaderboardCache) Unlock(ctx context.Context, scope string) error {
	if c == nil || c.cache == nil {
		return nil
	}
	return c.cache.Unlock(ctx, lockKey(scope))
}

func scoresKey(scope string) string   { return leaderboardKeyPrefix + scope + ":scores" }
func countersKey(scope string) string { return leaderboardKeyPrefix + scope + ":counters" }
func markerKey(scope string) string   { return leaderboardKeyPrefix + scope + ":built" }
func lockKey(scope string) string     { return leaderboardKeyPrefix + scope + ":lock" }

func generationKey(scope string) string {
	return leaderboardKeyPrefix + scope + ":generation"
}

func formatCounters(completed, total int) string {
	return fmt.Sprintf("%d:%d", completed, total)
}

func parseCounters(raw string) (int, int) {
	completed, total, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, 0
	}
	c, _ := strconv.Atoi(completed)
	t, _ := strconv.Atoi(total)
	return c, t
}
