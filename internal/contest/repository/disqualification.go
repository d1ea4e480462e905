package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"codearena/internal/common/db"
)

var ErrDisqualificationNotFound = errors.New("disqualification not found")

// Disqualification records whether a user is barred from a contest.
type Disqualification struct {
	UserID         string     `json:"userId"`
	ContestID      int64      `json:"contestId"`
	Disqualified   bool       `json:"disqualified"`
	DisqualifiedAt *time.Time `json:"disqualifiedAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type DisqualificationRepository interface {
	// Upsert writes the flag; DisqualifiedAt is set when flagged and cleared otherwise.
	Upsert(ctx context.Context, tx db.Transaction, userID string, contestID int64, disqualified bool, at time.Time) (*Disqualification, error)
	Get(ctx context.Context, tx db.Transaction, userID string, contestID int64) (*Disqualification, error)
}

type MySQLDisqualificationRepository struct {
	dbProvider db.Provider
}

func NewDisqualificationRepository(provider db.Provider) DisqualificationRepository {
	return &MySQLDisqualificationRepository{dbProvider: provider}
}

func (r *MySQLDisqualificationRepository) Upsert(ctx context.Context, tx db.Transaction, userID string, contestID int64, disqualified bool, at time.Time) (*Disqualification, error) {
	if userID == "" || contestID <= 0 {
		return nil, errors.New("userID and contestID are required")
	}
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	at = at.UTC()
	var flaggedAt *time.Time
	if disqualified {
		flaggedAt = &at
	}

	query := `
		INSERT INTO disqualifications (user_id, contest_id, disqualified, disqualified_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			disqualified = VALUES(disqualified),
			disqualified_at = VALUES(disqualified_at),
			updated_at = VALUES(updated_at)
	`
	if _, err := querier.Exec(ctx, query, userID, contestID, disqualified, flaggedAt, at); err != nil {
		return nil, err
	}
	return &Disqualification{
		UserID:         userID,
		ContestID:      contestID,
		Disqualified:   disqualified,
		DisqualifiedAt: flaggedAt,
		UpdatedAt:      at,
	}, nil
}

func (r *MySQLDisqualificationRepository) Get(ctx context.Context, tx db.Transaction, userID string, contestID int64) (*Disqualification, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT user_id, contest_id, disqualified, disqualified_at, updated_at
		FROM disqualifications
		WHERE user_id = ? AND contest_id = ?
	`
	var d Disqualification
	var flaggedAt sql.NullTime
	if err := querier.QueryRow(ctx, query, userID, contestID).Scan(&d.UserID, &d.ContestID, &d.Disqualified, &flaggedAt, &d.UpdatedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrDisqualificationNotFound
		}
		return nil, err
	}
	if flaggedAt.Valid {
		t := flaggedAt.Time
		d.DisqualifiedAt = &t
	}
	return &d, nil
}
