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
	defaultProblemTTL      = 30 * time.Minute
	defaultProblemEmptyTTL = 2 * time.Minute
	problemByNameKeyPrefix = "problem:name:"
	problemByIDKeyPrefix   = "problem:id:"
)

var (
	ErrProblemNotFound = errors.New("problem not found")
)

// Problem is the scoring metadata of a problem. Its assets live in an AssetStore keyed by Name.
type Problem struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Title         string `json:"title"`
	TotalPoints   int    `json:"totalPoints"`
	TestCaseCount int    `json:"testCaseCount"`

	// Zero limits defer to the executor defaults.
	TimeLimitMS   int `json:"timeLimitMs"`
	MemoryLimitKB int `json:"memoryLimitKb"`
}

// PointsPerTestCase is floor(TotalPoints / testCases), where testCases falls back to fallbackCount
// when the problem row has no recorded count.
func (p Problem) PointsPerTestCase(fallbackCount int) int {
	count := p.TestCaseCount
	if count <= 0 {
		count = fallbackCount
	}
	if count <= 0 || p.TotalPoints <= 0 {
		return 0
	}
	return p.TotalPoints / count
}

type ProblemRepository interface {
	GetByName(ctx context.Context, tx db.Transaction, name string) (*Problem, error)
	GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*Problem, error)
}

type MySQLProblemRepository struct {
	dbProvider db.Provider
	cache      cache.Cache
	ttl        time.Duration
	emptyTTL   time.Duration
}

func NewProblemRepositoryWithTTL(provider db.Provider, cacheClient cache.Cache, ttl, emptyTTL time.Duration) ProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemEmptyTTL
	}
	return &MySQLProblemRepository{
		dbProvider: provider,
		cache:      cacheClient,
		ttl:        ttl,
		emptyTTL:   emptyTTL,
	}
}

const problemColumns = "p.id, p.name, p.title, p.total_points, p.test_case_count, p.time_limit_ms, p.memory_limit_kb"

func (r *MySQLProblemRepository) GetByName(ctx context.Context, tx db.Transaction, name string) (*Problem, error) {
	if name == "" {
		return nil, ErrProblemNotFound
	}
	query := "SELECT " + problemColumns + " FROM problems p WHERE p.name = ?"
	return r.get(ctx, tx, problemByNameKeyPrefix+name, query, name)
}

func (r *MySQLProblemRepository) GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*Problem, error) {
	if problemID <= 0 {
		return nil, ErrProblemNotFound
	}
	query := "SELECT " + problemColumns + " FROM problems p WHERE p.id = ?"
	return r.get(ctx, tx, problemByIDKeyPrefix+strconv.FormatInt(problemID, 10), query, problemID)
}

func (r *MySQLProblemRepository) get(ctx context.Context, tx db.Transaction, key, query string, arg interface{}) (*Problem, error) {
	load := func(ctx context.Context) (*Problem, error) {
		problem, err := r.queryOne(ctx, tx, query, arg)
		if errors.Is(err, ErrProblemNotFound) {
			return nil, nil
		}
		return problem, err
	}
	if r.cache == nil || tx != nil {
		return r.queryOne(ctx, tx, query, arg)
	}
	problem, err := cache.GetWithCached[*Problem](
		ctx,
		r.cache,
		key,
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(p *Problem) bool { return p == nil },
		marshalProblem,
		unmarshalProblem,
		load,
	)
	if err != nil {
		return nil, err
	}
	if problem == nil {
		return nil, ErrProblemNotFound
	}
	return problem, nil
}

func (r *MySQLProblemRepository) queryOne(ctx context.Context, tx db.Transaction, query string, arg interface{}) (*Problem, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	problem, err := scanProblem(querier.QueryRow(ctx, query, arg))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	return problem, nil
}

func scanProblem(scanner db.Scanner) (*Problem, error) {
	var p Problem
	if err := scanner.Scan(&p.ID, &p.Name, &p.Title, &p.TotalPoints, &p.TestCaseCount, &p.TimeLimitMS, &p.MemoryLimitKB); err != nil {
		return nil, err
	}
	return &p, nil
}

func marshalProblem(p *Problem) string {
	payload, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalProblem(data string) (*Problem, error) {
	var p Problem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
