package repository

import (
	"context"
	"errors"

	"codearena/internal/common/db"

	sq "github.com/Masterminds/squirrel"
)

// UserStats aggregates a user's submissions.
type UserStats struct {
	TotalPoints      int `json:"totalPoints"`
	TotalSubmissions int `json:"totalSubmissions"`
	SolvedProblems   int `json:"solvedProblems"`
}

// LeaderboardRow is one user's standing. Rank is assigned by the caller.
type LeaderboardRow struct {
	Rank                 int    `json:"rank"`
	UserID               string `json:"userId"`
	TotalPoints          int    `json:"totalPoints"`
	CompletedSubmissions int    `json:"completedSubmissions"`
	TotalSubmissions     int    `json:"totalSubmissions"`
}

type StatsRepository interface {
	// SubmissionTotals returns the sum of points and the submission count of a user.
	SubmissionTotals(ctx context.Context, tx db.Transaction, userID string) (points int, submissions int, err error)
	// Standings aggregates every user's submissions, optionally restricted to one contest.
	Standings(ctx context.Context, tx db.Transaction, contestID *int64) ([]LeaderboardRow, error)
}

type MySQLStatsRepository struct {
	dbProvider db.Provider
}

func NewStatsRepository(provider db.Provider) StatsRepository {
	return &MySQLStatsRepository{dbProvider: provider}
}

func (r *MySQLStatsRepository) SubmissionTotals(ctx context.Context, tx db.Transaction, userID string) (int, int, error) {
	if userID == "" {
		return 0, 0, errors.New("userID is required")
	}
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return 0, 0, err
	}
	query, args, err := sq.Select("COALESCE(SUM(points), 0)", "COUNT(*)").
		From("submissions").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return 0, 0, err
	}
	var points, count int
	if err := querier.QueryRow(ctx, query, args...).Scan(&points, &count); err != nil {
		return 0, 0, err
	}
	return points, count, nil
}

func (r *MySQLStatsRepository) Standings(ctx context.Context, tx db.Transaction, contestID *int64) ([]LeaderboardRow, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	builder := sq.Select(
		"user_id",
		"COALESCE(SUM(points), 0) AS total_points",
		"SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS completed",
		"COUNT(*) AS total",
	).From("submissions")
	if contestID != nil {
		builder = builder.Where(sq.Eq{"contest_key": *contestID})
	}
	query, args, err := builder.GroupBy("user_id").OrderBy("total_points DESC", "user_id ASC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := querier.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var standings []LeaderboardRow
	for rows.Next() {
		var row LeaderboardRow
		if err := rows.Scan(&row.UserID, &row.TotalPoints, &row.CompletedSubmissions, &row.TotalSubmissions); err != nil {
			return nil, err
		}
		row.Rank = len(standings) + 1
		standings = append(standings, row)
	}
	return standings, rows.Err()
}
