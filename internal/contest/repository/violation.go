package repository

import (
	"context"
	"errors"
	"time"

	"codearena/internal/common/db"

	sq "github.com/Masterminds/squirrel"
)

// Violation is a proctoring signal reported by the client.
type Violation struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	ContestID int64     `json:"contestId"`
	ProblemID int64     `json:"problemId"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

type ViolationRepository interface {
	Create(ctx context.Context, tx db.Transaction, v *Violation) error
	Count(ctx context.Context, tx db.Transaction, userID string, contestID int64) (int64, error)
}

type MySQLViolationRepository struct {
	dbProvider db.Provider
}

func NewViolationRepository(provider db.Provider) ViolationRepository {
	return &MySQLViolationRepository{dbProvider: provider}
}

func (r *MySQLViolationRepository) Create(ctx context.Context, tx db.Transaction, v *Violation) error {
	if v == nil || v.UserID == "" || v.ContestID <= 0 || v.ProblemID <= 0 || v.Reason == "" {
		return errors.New("violation is incomplete")
	}
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	query, args, err := sq.Insert("violations").
		Columns("user_id", "contest_id", "problem_id", "reason", "created_at").
		Values(v.UserID, v.ContestID, v.ProblemID, v.Reason, v.CreatedAt).
		ToSql()
	if err != nil {
		return err
	}
	res, err := querier.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		v.ID = id
	}
	return nil
}

func (r *MySQLViolationRepository) Count(ctx context.Context, tx db.Transaction, userID string, contestID int64) (int64, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return 0, err
	}
	query, args, err := sq.Select("COUNT(*)").
		From("violations").
		Where(sq.Eq{"user_id": userID, "contest_id": contestID}).
		ToSql()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := querier.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
