package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"codearena/internal/common/db"

	sq "github.com/Masterminds/squirrel"
)

// LedgerKey is a scoring namespace for one user on one problem.
type LedgerKey struct {
	UserID    string
	ProblemID int64
	ContestID *int64
}

// LedgerRepository records which test cases have been credited per namespace.
// Rows are unique on (user_id, problem_id, contest_key, test_case_number).
type LedgerRepository interface {
	// Credited returns the subset of numbers already credited, ascending.
	Credited(ctx context.Context, tx db.Transaction, key LedgerKey, numbers []int) ([]int, error)
	// Credit inserts numbers, skipping ones already present, and returns how many rows were new.
	Credit(ctx context.Context, tx db.Transaction, key LedgerKey, numbers []int, at time.Time) (int, error)
}

type MySQLLedgerRepository struct {
	dbProvider db.Provider
}

func NewLedgerRepository(provider db.Provider) LedgerRepository {
	return &MySQLLedgerRepository{dbProvider: provider}
}

func (r *MySQLLedgerRepository) Credited(ctx context.Context, tx db.Transaction, key LedgerKey, numbers []int) ([]int, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	if key.UserID == "" || key.ProblemID <= 0 {
		return nil, errors.New("userID and problemID are required")
	}
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	query, args, err := sq.Select("test_case_number").
		From("passed_test_cases").
		Where(sq.Eq{
			"user_id":          key.UserID,
			"problem_id":       key.ProblemID,
			"contest_key":      ContestKey(key.ContestID),
			"test_case_number": numbers,
		}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := querier.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var credited []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		credited = append(credited, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Ints(credited)
	return credited, nil
}

func (r *MySQLLedgerRepository) Credit(ctx context.Context, tx db.Transaction, key LedgerKey, numbers []int, at time.Time) (int, error) {
	if len(numbers) == 0 {
		return 0, nil
	}
	if key.UserID == "" || key.ProblemID <= 0 {
		return 0, errors.New("userID and problemID are required")
	}
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return 0, err
	}
	insert := sq.Insert("passed_test_cases").
		Options("IGNORE").
		Columns("user_id", "problem_id", "contest_id", "contest_key", "test_case_number", "solved_at")
	for _, n := range numbers {
		insert = insert.Values(key.UserID, key.ProblemID, key.ContestID, ContestKey(key.ContestID), n, at.UTC())
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return 0, err
	}
	result, err := querier.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// SolvedProblemRepository tracks accepted problems per namespace.
type SolvedProblemRepository interface {
	Upsert(ctx context.Context, tx db.Transaction, key LedgerKey, at time.Time) error
	CountByUser(ctx context.Context, tx db.Transaction, userID string) (int, error)
}

type MySQLSolvedProblemRepository struct {
	dbProvider db.Provider
}

func NewSolvedProblemRepository(provider db.Provider) SolvedProblemRepository {
	return &MySQLSolvedProblemRepository{dbProvider: provider}
}

func (r *MySQLSolvedProblemRepository) Upsert(ctx context.Context, tx db.Transaction, key LedgerKey, at time.Time) error {
	if key.UserID == "" || key.ProblemID <= 0 {
		return errors.New("userID and problemID are required")
	}
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}
	query, args, err := sq.Insert("solved_problems").
		Columns("user_id", "problem_id", "contest_id", "contest_key", "solved_at").
		Values(key.UserID, key.ProblemID, key.ContestID, ContestKey(key.ContestID), at.UTC()).
		Suffix("ON DUPLICATE KEY UPDATE solved_at = solved_at").
		ToSql()
	if err != nil {
		return err
	}
	_, err = querier.Exec(ctx, query, args...)
	return err
}

func (r *MySQLSolvedProblemRepository) CountByUser(ctx context.Context, tx db.Transaction, userID string) (int, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return 0, err
	}
	query, args, err := sq.Select("COUNT(*)").From("solved_problems").Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return 0, err
	}
	var count int
	if err := querier.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
