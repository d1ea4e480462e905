package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codearena/internal/submission/repository"
	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

// QueryService serves read-only views over stored submissions.
type QueryService struct {
	submissions repository.SubmissionRepository
	solved      repository.SolvedProblemRepository
	stats       repository.StatsRepository
	leaderboard *repository.LeaderboardCache
	problems    ProblemSource
	timeouts    TimeoutConfig
}

// QueryConfig wires QueryService.
type QueryConfig struct {
	Submissions repository.SubmissionRepository
	Solved      repository.SolvedProblemRepository
	Stats       repository.StatsRepository
	Leaderboard *repository.LeaderboardCache
	Problems    ProblemSource
	Timeouts    TimeoutConfig
}

func NewQueryService(cfg QueryConfig) (*QueryService, error) {
	if cfg.Submissions == nil || cfg.Solved == nil || cfg.Stats == nil {
		return nil, fmt.Errorf("submission, solved and stats repositories are required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem source is required")
	}
	return &QueryService{
		submissions: cfg.Submissions,
		solved:      cfg.Solved,
		stats:       cfg.Stats,
		leaderboard: cfg.Leaderboard,
		problems:    cfg.Problems,
		timeouts:    cfg.Timeouts,
	}, nil
}

// HistoryQuery selects the caller's recent submissions to one problem.
type HistoryQuery struct {
	UserID      string
	ProblemID   int64
	ProblemName string
	ContestID   *int64
}

// HistoryItem is one past submission with its token states.
type HistoryItem struct {
	ID              string             `json:"id"`
	ProblemID       int64              `json:"problemId"`
	ContestID       *int64             `json:"contestId"`
	Language        string             `json:"language"`
	Code            string             `json:"code"`
	Status          string             `json:"status"`
	Verdict         string             `json:"verdict"`
	Points          int                `json:"points"`
	PassedTestCases int                `json:"passedTestCases"`
	TotalTestCases  int                `json:"totalTestCases"`
	CreatedAt       time.Time          `json:"createdAt"`
	Tokens          []repository.Token `json:"submissionTokens"`
}

// History returns the last submissions of the caller to a problem, newest first.
func (s *QueryService) History(ctx context.Context, q HistoryQuery) ([]HistoryItem, error) {
	if q.UserID == "" {
		return nil, pkgerrors.New(pkgerrors.Unauthorized)
	}
	problemID := q.ProblemID
	if problemID <= 0 {
		if strings.TrimSpace(q.ProblemName) == "" {
			return nil, pkgerrors.BadRequest("Either problemId or problemName is required")
		}
		problem, err := s.problems.Resolve(ctx, q.ProblemName)
		if err != nil {
			return nil, err
		}
		problemID = problem.ID
	}

	ctxDB, cancel := withTimeout(ctx, s.timeouts.DB)
	defer cancel()
	submissions, err := s.submissions.ListByUser(ctxDB, nil, repository.HistoryFilter{
		UserID:    q.UserID,
		ProblemID: problemID,
		ContestID: q.ContestID,
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "list submissions failed")
	}

	items := make([]HistoryItem, 0, len(submissions))
	for _, sub := range submissions {
		tokens := sub.Tokens
		if tokens == nil {
			tokens = []repository.Token{}
		}
		items = append(items, HistoryItem{
			ID:              sub.ID,
			ProblemID:       sub.ProblemID,
			ContestID:       sub.ContestID,
			Language:        sub.Language,
			Code:            sub.SourceCode,
			Status:          sub.Status,
			Verdict:         sub.Verdict,
			Points:          sub.Points,
			PassedTestCases: sub.PassedTestCases,
			TotalTestCases:  sub.TotalTestCases,
			CreatedAt:       sub.CreatedAt,
			Tokens:          tokens,
		})
	}
	return items, nil
}

// Stats returns the caller's points, submission count and solved problem count.
func (s *QueryService) Stats(ctx context.Context, userID string) (*repository.UserStats, error) {
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.Unauthorized)
	}
	ctxDB, cancel := withTimeout(ctx, s.timeouts.DB)
	defer cancel()
	points, submissions, err := s.stats.SubmissionTotals(ctxDB, nil, userID)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "aggregate submissions failed")
	}
	solved, err := s.solved.CountByUser(ctxDB, nil, userID)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "count solved problems failed")
	}
	return &repository.UserStats{TotalPoints: points, TotalSubmissions: submissions, SolvedProblems: solved}, nil
}

// Leaderboard returns standings ranked by total points. It reads the cached table and rebuilds
// it from SQL on a miss; a replica that loses the rebuild lock answers from SQL directly.
func (s *QueryService) Leaderboard(ctx context.Context, contestID *int64) ([]repository.LeaderboardRow, error) {
	scope := repository.LeaderboardScope(contestID)
	if rows, ok := s.cachedStandings(ctx, scope); ok {
		return rows, nil
	}

	locked := false
	var generation int64
	if s.leaderboard != nil {
		ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
		ok, err := s.leaderboard.Lock(ctxCache, scope)
		if err != nil {
			logger.Warn(ctx, "leaderboard lock failed", zap.String("scope", scope), zap.Error(err))
		}
		if ok {
			generation, err = s.leaderboard.Generation(ctxCache, scope)
			if err != nil {
				logger.Warn(ctx, "read leaderboard generation failed", zap.String("scope", scope), zap.Error(err))
				s.unlock(ctx, scope)
				ok = false
			}
		}
		cancel()
		locked = ok
	}

	ctxDB, cancel := withTimeout(ctx, s.timeouts.DB)
	rows, err := s.stats.Standings(ctxDB, nil, contestID)
	cancel()
	if err != nil {
		if locked {
			s.unlock(ctx, scope)
		}
		return nil, pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "aggregate standings failed")
	}
	if rows == nil {
		rows = []repository.LeaderboardRow{}
	}

	if locked {
		ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
		stored, err := s.leaderboard.Store(ctxCache, scope, generation, rows)
		if err != nil {
			logger.Warn(ctx, "store leaderboard failed", zap.String("scope", scope), zap.Error(err))
		} else if !stored {
			logger.Debug(ctx, "leaderboard invalidated during rebuild", zap.String("scope", scope))
		}
		cancel()
		s.unlock(ctx, scope)
	}
	return rows, nil
}

func (s *QueryService) cachedStandings(ctx context.Context, scope string) ([]repository.LeaderboardRow, bool) {
	if s.leaderboard == nil {
		return nil, false
	}
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()
	rows, ok, err := s.leaderboard.Load(ctxCache, scope)
	if err != nil {
		logger.Warn(ctx, "load leaderboard failed", zap.String("scope", scope), zap.Error(err))
		return nil, false
	}
	return rows, ok
}

func (s *QueryService) unlock(ctx context.Context, scope string) {
	ctxCache, cancel := withTimeout(ctx, s.timeouts.Cache)
	defer cancel()
	if err := s.leaderboard.Unlock(ctxCache, scope); err != nil {
		logger.Warn(ctx, "leaderboard unlock failed", zap.String("scope", scope), zap.Error(err))
	}
}
