package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
)

const (
	defaultContestTTL      = 5 * time.Minute
	defaultContestEmptyTTL = time.Minute
	contestKeyPrefix       = "contest:"
)

var ErrContestNotFound = errors.New("contest not found")

// ContestStatus is a contest's position relative to its window.
type ContestStatus string

const (
	ContestUpcoming ContestStatus = "upcoming"
	ContestOngoing  ContestStatus = "ongoing"
	ContestEnded    ContestStatus = "ended"
)

// Contest is a timed scoring namespace.
type Contest struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// StatusAt reports the window status at now. The end instant counts as ended.
func (c Contest) StatusAt(now time.Time) ContestStatus {
	switch {
	case now.Before(c.StartTime):
		return ContestUpcoming
	case !now.Before(c.EndTime):
		return ContestEnded
	default:
		return ContestOngoing
	}
}

type ContestRepository interface {
	GetByID(ctx context.Context, tx db.Transaction, contestID int64) (*Contest, error)
	List(ctx context.Context, tx db.Transaction) ([]Contest, error)
}

type MySQLContestRepository struct {
	dbProvider db.Provider
	cache      cache.Cache
	ttl        time.Duration
	emptyTTL   time.Duration
}

func NewContestRepository(provider db.Provider, cacheClient cache.Cache) ContestRepository {
	return &MySQLContestRepository{
		dbProvider: provider,
		cache:      cacheClient,
		ttl:        defaultContestTTL,
		emptyTTL:   defaultContestEmptyTTL,
	}
}

const contestColumns = "id, title, start_time, end_time"

func (r *MySQLContestRepository) GetByID(ctx context.Context, tx db.Transaction, contestID int64) (*Contest, error) {
	if contestID <= 0 {
		return nil, ErrContestNotFound
	}
	if r.cache == nil || tx != nil {
		return r.getFromDB(ctx, tx, contestID)
	}
	contest, err := cache.GetWithCached[*Contest](
		ctx,
		r.cache,
		contestKeyPrefix+strconv.FormatInt(contestID, 10),
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(c *Contest) bool { return c == nil },
		marshalContest,
		unmarshalContest,
		func(ctx context.Context) (*Contest, error) {
			contest, err := r.getFromDB(ctx, nil, contestID)
			if errors.Is(err, ErrContestNotFound) {
				return nil, nil
			}
			return contest, err
		},
	)
	if err != nil {
		return nil, err
	}
	if contest == nil {
		return nil, ErrContestNotFound
	}
	return contest, nil
}

func (r *MySQLContestRepository) List(ctx context.Context, tx db.Transaction) ([]Contest, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	rows, err := querier.Query(ctx, "SELECT "+contestColumns+" FROM contests ORDER BY start_time DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contests []Contest
	for rows.Next() {
		var c Contest
		if err := rows.Scan(&c.ID, &c.Title, &c.StartTime, &c.EndTime); err != nil {
			return nil, err
		}
		contests = append(contests, c)
	}
	return contests, rows.Err()
}

func (r *MySQLContestRepository) getFromDB(ctx context.Context, tx db.Transaction, contestID int64) (*Contest, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	var c Contest
	row := querier.QueryRow(ctx, "SELECT "+contestColumns+" FROM contests WHERE id = ?", contestID)
	if err := row.Scan(&c.ID, &c.Title, &c.StartTime, &c.EndTime); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrContestNotFound
		}
		return nil, err
	}
	return &c, nil
}

func marshalContest(c *Contest) string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalContest(data string) (*Contest, error) {
	var c Contest
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, err
	}
	return &c, nil
}
