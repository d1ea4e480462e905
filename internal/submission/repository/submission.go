package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"codearena/internal/common/db"

	sq "github.com/Masterminds/squirrel"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	VerdictAccepted         = "Accepted"
	VerdictFailed           = "Failed"
	VerdictCompilationError = "Compilation Error"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// Submission is one graded attempt. Tokens are ordered by position, which is the test case index.
type Submission struct {
	ID              string `json:"id"`
	UserID          string `json:"userId"`
	ProblemID       int64  `json:"problemId"`
	ContestID       *int64 `json:"contestId"`
	Language        string `json:"language"`
	SourceCode      string `json:"sourceCode"`
	Status          string `json:"status"`
	TotalTestCases  int    `json:"totalTestCases"`
	PassedTestCases int    `json:"passedTestCases"`
	Points          int    `json:"points"`

	// CreditedTestCases is how many ledger rows the terminal transition inserted.
	CreditedTestCases int       `json:"creditedTestCases"`
	Verdict           string    `json:"verdict"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	Tokens            []Token   `json:"tokens"`
}

// Terminal reports whether the submission left pending.
func (s *Submission) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Token is the executor handle of one test case.
type Token struct {
	Position int    `json:"position"`
	Token    string `json:"token"`
	Passed   bool   `json:"passed"`
	Status   string `json:"status"`
}

// Outcome is the terminal state written on the first completed poll.
type Outcome struct {
	Status            string
	Verdict           string
	PassedTestCases   int
	Points            int
	CreditedTestCases int
}

// HistoryFilter selects a user's recent submissions.
type HistoryFilter struct {
	UserID    string
	ProblemID int64
	ContestID *int64
	Limit     int
}

// ContestKey maps a scoring namespace to its non-null column value. Practice is 0.
func ContestKey(contestID *int64) int64 {
	if contestID == nil {
		return 0
	}
	return *contestID
}

type SubmissionRepository interface {
	// Create inserts the submission and its tokens.
	Create(ctx context.Context, tx db.Transaction, submission *Submission) error
	GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error)
	// GetForUpdate locks the submission row for the rest of tx. Tokens are not loaded.
	GetForUpdate(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error)
	// Complete moves a pending submission to outcome. It reports false when the row already left pending.
	Complete(ctx context.Context, tx db.Transaction, submissionID string, outcome Outcome) (bool, error)
	UpdateTokens(ctx context.Context, tx db.Transaction, submissionID string, tokens []Token) error
	ListByUser(ctx context.Context, tx db.Transaction, filter HistoryFilter) ([]Submission, error)
}

type MySQLSubmissionRepository struct {
	dbProvider db.Provider
}

func NewSubmissionRepository(provider db.Provider) SubmissionRepository {
	return &MySQLSubmissionRepository{dbProvider: provider}
}

var submissionColumns = []string{
	"id", "user_id", "problem_id", "contest_id", "language", "source_code", "status",
	"total_test_cases", "passed_test_cases", "points", "credited_test_cases", "verdict", "created_at", "updated_at",
}

func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.ID == "" {
		return errors.New("submissionID is required")
	}
	if submission.UserID == "" {
		return errors.New("userID is required")
	}
	if submission.ProblemID <= 0 {
		return errors.New("problemID is required")
	}
	if len(submission.Tokens) != submission.TotalTestCases {
		return errors.New("token count does not match total test cases")
	}
	if tx == nil {
		return db.WithTransaction(ctx, r.dbProvider, func(tx db.Transaction) error {
			return r.create(ctx, tx, submission)
		})
	}
	return r.create(ctx, tx, submission)
}

func (r *MySQLSubmissionRepository) create(ctx context.Context, tx db.Transaction, s *Submission) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = s.CreatedAt

	query, args, err := sq.Insert("submissions").
		Columns(
			"id", "user_id", "problem_id", "contest_id", "contest_key", "language", "source_code", "status",
			"total_test_cases", "passed_test_cases", "points", "credited_test_cases", "verdict", "created_at", "updated_at",
		).
		Values(
			s.ID, s.UserID, s.ProblemID, s.ContestID, ContestKey(s.ContestID), s.Language, s.SourceCode, s.Status,
			s.TotalTestCases, s.PassedTestCases, s.Points, s.CreditedTestCases, s.Verdict, s.CreatedAt, s.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return err
	}
	if len(s.Tokens) == 0 {
		return nil
	}

	insert := sq.Insert("submission_tokens").Columns("submission_id", "position", "token", "passed", "status")
	for _, t := range s.Tokens {
		insert = insert.Values(s.ID, t.Position, t.Token, t.Passed, t.Status)
	}
	query, args, err = insert.ToSql()
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, query, args...)
	return err
}

func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	submission, err := r.getOne(ctx, querier, submissionID, "")
	if err != nil {
		return nil, err
	}
	tokens, err := r.loadTokens(ctx, querier, []string{submissionID})
	if err != nil {
		return nil, err
	}
	submission.Tokens = tokens[submissionID]
	return submission, nil
}

func (r *MySQLSubmissionRepository) GetForUpdate(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error) {
	if tx == nil {
		return nil, errors.New("GetForUpdate requires a transaction")
	}
	return r.getOne(ctx, tx, submissionID, "FOR UPDATE")
}

func (r *MySQLSubmissionRepository) getOne(ctx context.Context, querier db.Querier, submissionID, suffix string) (*Submission, error) {
	if submissionID == "" {
		return nil, ErrSubmissionNotFound
	}
	builder := sq.Select(submissionColumns...).From("submissions").Where(sq.Eq{"id": submissionID}).Limit(1)
	if suffix != "" {
		builder = builder.Suffix(suffix)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	submission, err := scanSubmission(querier.QueryRow(ctx, query, args...))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

func (r *MySQLSubmissionRepository) Complete(ctx context.Context, tx db.Transaction, submissionID string, outcome Outcome) (bool, error) {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return false, err
	}
	query, args, err := sq.Update("submissions").
		Set("status", outcome.Status).
		Set("verdict", outcome.Verdict).
		Set("passed_test_cases", outcome.PassedTestCases).
		Set("points", outcome.Points).
		Set("credited_test_cases", outcome.CreditedTestCases).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": submissionID, "status": StatusPending}).
		ToSql()
	if err != nil {
		return false, err
	}
	result, err := querier.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *MySQLSubmissionRepository) UpdateTokens(ctx context.Context, tx db.Transaction, submissionID string, tokens []Token) error {
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		query, args, err := sq.Update("submission_tokens").
			Set("passed", t.Passed).
			Set("status", t.Status).
			Where(sq.Eq{"submission_id": submissionID, "position": t.Position}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := querier.Exec(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func (r *MySQLSubmissionRepository) ListByUser(ctx context.Context, tx db.Transaction, filter HistoryFilter) ([]Submission, error) {
	if filter.UserID == "" {
		return nil, errors.New("userID is required")
	}
	querier, err := db.GetProviderQuerier(r.dbProvider, tx)
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	builder := sq.Select(submissionColumns...).From("submissions").Where(sq.Eq{"user_id": filter.UserID})
	if filter.ProblemID > 0 {
		builder = builder.Where(sq.Eq{"problem_id": filter.ProblemID})
	}
	if filter.ContestID != nil {
		builder = builder.Where(sq.Eq{"contest_key": *filter.ContestID})
	}
	query, args, err := builder.OrderBy("created_at DESC", "id DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := querier.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []Submission
	var ids []string
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, *s)
		ids = append(ids, s.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return submissions, nil
	}

	tokens, err := r.loadTokens(ctx, querier, ids)
	if err != nil {
		return nil, err
	}
	for i := range submissions {
		submissions[i].Tokens = tokens[submissions[i].ID]
	}
	return submissions, nil
}

func (r *MySQLSubmissionRepository) loadTokens(ctx context.Context, querier db.Querier, ids []string) (map[string][]Token, error) {
	query, args, err := sq.Select("submission_id", "position", "token", "passed", "status").
		From("submission_tokens").
		Where(sq.Eq{"submission_id": ids}).
		OrderBy("submission_id", "position").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := querier.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make(map[string][]Token, len(ids))
	for rows.Next() {
		var id string
		var t Token
		if err := rows.Scan(&id, &t.Position, &t.Token, &t.Passed, &t.Status); err != nil {
			return nil, err
		}
		tokens[id] = append(tokens[id], t)
	}
	return tokens, rows.Err()
}

func scanSubmission(scanner db.Scanner) (*Submission, error) {
	var s Submission
	var contestID sql.NullInt64
	if err := scanner.Scan(
		&s.ID,
		&s.UserID,
		&s.ProblemID,
		&contestID,
		&s.Language,
		&s.SourceCode,
		&s.Status,
		&s.TotalTestCases,
		&s.PassedTestCases,
		&s.Points,
		&s.CreditedTestCases,
		&s.Verdict,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if contestID.Valid {
		id := contestID.Int64
		s.ContestID = &id
	}
	return &s, nil
}
