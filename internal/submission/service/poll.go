package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"codearena/internal/common/db"
	"codearena/internal/executor"
	problemRepo "codearena/internal/problem/repository"
	"codearena/internal/submission/repository"
	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

var errCompletedElsewhere = errors.New("submission completed by a concurrent poll")

// CaseView is one test case outcome as shown to the submitter.
type CaseView struct {
	TestCaseNumber    int    `json:"testCaseNumber"`
	Status            string `json:"status"`
	StatusDescription string `json:"statusDescription"`
	Output            string `json:"output"`
	Time              string `json:"time"`
	Memory            int    `json:"memory"`
}

// PollResult is the live snapshot of a submission.
type PollResult struct {
	SubmissionID       string     `json:"submissionId"`
	Status             string     `json:"status"`
	Verdict            string     `json:"verdict,omitempty"`
	TotalTestCases     int        `json:"totalTestCases"`
	PassedTestCases    int        `json:"passedTestCases"`
	FailedTestCases    int        `json:"failedTestCases"`
	PendingTestCases   int        `json:"pendingTestCases"`
	Points             int        `json:"points"`
	PointsAwarded      bool       `json:"pointsAwarded"`
	NewTestCasesPassed int        `json:"newTestCasesPassed"`
	AlreadySolved      bool       `json:"alreadySolved"`
	Results            []CaseView `json:"results"`
}

// award is the scoring outcome of a terminal submission.
type award struct {
	status  string
	verdict string
	points  int
	credits int
}

type cachedResult struct {
	UserID string      `json:"userId"`
	Result *PollResult `json:"result"`
}

// Poll reads the executor state of every test case. The first poll that sees all of them
// finished scores the submission; later polls return the stored score.
func (o *Orchestrator) Poll(ctx context.Context, userID, submissionID string) (*PollResult, error) {
	if cached := o.cachedResult(ctx, userID, submissionID); cached != nil {
		return cached, nil
	}
	submission, err := o.load(ctx, userID, submissionID)
	if err != nil {
		return nil, err
	}
	if len(submission.Tokens) != submission.TotalTestCases || len(submission.Tokens) == 0 {
		logger.Error(ctx, "submission token count mismatch",
			zap.String("submission_id", submission.ID),
			zap.Int("tokens", len(submission.Tokens)),
			zap.Int("total_test_cases", submission.TotalTestCases),
		)
		return nil, pkgerrors.Invariant("submission %s has %d tokens for %d test cases",
			submission.ID, len(submission.Tokens), submission.TotalTestCases)
	}

	tokens := make([]string, len(submission.Tokens))
	for i, t := range submission.Tokens {
		tokens[i] = t.Token
	}
	raws, err := o.executor.PollBatch(ctx, tokens)
	if err != nil {
		return nil, err
	}
	if len(raws) != len(tokens) {
		return nil, pkgerrors.Invariant("executor returned %d results for %d tokens", len(raws), len(tokens))
	}

	cases := make([]executor.CaseResult, len(raws))
	for i, raw := range raws {
		cases[i] = executor.MapResult(raw)
	}
	result := snapshot(submission, cases)
	if result.PendingTestCases > 0 {
		result.Status = submission.Status
		result.Verdict = submission.Verdict
		result.Points = submission.Points
		return result, nil
	}

	var a award
	if submission.Terminal() {
		a = storedAward(submission)
	} else {
		problem, err := o.problems.ResolveByID(ctx, submission.ProblemID)
		if err != nil {
			return nil, err
		}
		a, err = o.finalize(ctx, submission, problem, cases)
		if err != nil {
			return nil, err
		}
	}
	result.Status = a.status
	result.Verdict = a.verdict
	result.Points = a.points
	result.PointsAwarded = a.points > 0
	result.NewTestCasesPassed = a.credits
	result.AlreadySolved = result.PassedTestCases > 0 && a.credits == 0

	o.storeResult(ctx, userID, result)
	return result, nil
}

// finalize scores a submission that was pending before this poll. The submission row is locked
// for the transaction, so of two racing polls exactly one writes the ledger; the other reads the
// stored outcome after the winner commits.
func (o *Orchestrator) finalize(
	ctx context.Context,
	submission *repository.Submission,
	problem *problemRepo.Problem,
	cases []executor.CaseResult,
) (award, error) {
	pointsPerCase := problem.PointsPerTestCase(submission.TotalTestCases)
	passed := passedNumbers(cases)
	accepted := len(passed) == len(cases)
	key := repository.LedgerKey{
		UserID:    submission.UserID,
		ProblemID: submission.ProblemID,
		ContestID: submission.ContestID,
	}
	now := o.now().UTC()

	var a award
	var recorded *repository.Submission
	ctxDB, cancel := withTimeout(ctx, o.timeouts.DB)
	defer cancel()
	err := db.WithTransaction(ctxDB, o.db, func(tx db.Transaction) error {
		locked, err := o.submissions.GetForUpdate(ctxDB, tx, submission.ID)
		if err != nil {
			return err
		}
		if locked.Terminal() {
			a = storedAward(locked)
			return nil
		}

		credited, err := o.ledger.Credited(ctxDB, tx, key, passed)
		if err != nil {
			return err
		}
		newly := difference(passed, credited)
		inserted, err := o.ledger.Credit(ctxDB, tx, key, newly, now)
		if err != nil {
			return err
		}
		if inserted != len(newly) {
			logger.Warn(ctx, "ledger rows credited concurrently",
				zap.String("submission_id", submission.ID),
				zap.Int("expected", len(newly)),
				zap.Int("inserted", inserted),
			)
		}

		outcome := repository.Outcome{
			Status:            repository.StatusFailed,
			Verdict:           repository.VerdictFailed,
			PassedTestCases:   len(passed),
			Points:            inserted * pointsPerCase,
			CreditedTestCases: inserted,
		}
		if accepted {
			outcome.Status = repository.StatusCompleted
			outcome.Verdict = repository.VerdictAccepted
		}
		ok, err := o.submissions.Complete(ctxDB, tx, submission.ID, outcome)
		if err != nil {
			return err
		}
		if !ok {
			return errCompletedElsewhere
		}
		if err := o.submissions.UpdateTokens(ctxDB, tx, submission.ID, tokenStates(cases)); err != nil {
			return err
		}
		if accepted {
			if err := o.solved.Upsert(ctxDB, tx, key, now); err != nil {
				return err
			}
		}

		a = award{status: outcome.Status, verdict: outcome.Verdict, points: outcome.Points, credits: inserted}
		done := *submission
		done.Status = outcome.Status
		done.Verdict = outcome.Verdict
		done.PassedTestCases = outcome.PassedTestCases
		done.Points = outcome.Points
		done.CreditedTestCases = outcome.CreditedTestCases
		recorded = &done
		return nil
	})
	if errors.Is(err, errCompletedElsewhere) {
		stored, loadErr := o.submissions.GetByID(ctxDB, nil, submission.ID)
		if loadErr != nil {
			return award{}, pkgerrors.Wrapf(loadErr, pkgerrors.DatabaseError, "reload submission failed")
		}
		return storedAward(stored), nil
	}
	if err != nil {
		return award{}, pkgerrors.Wrapf(err, pkgerrors.TransactionFailed, "score submission failed")
	}

	if recorded != nil {
		o.afterVerdict(ctx, recorded, a, now)
	}
	return a, nil
}

func (o *Orchestrator) afterVerdict(ctx context.Context, s *repository.Submission, a award, at time.Time) {
	o.metrics.VerdictRecorded(a.status, a.points, a.credits)
	o.events.Publish(ctx, s, at)
	o.invalidateLeaderboard(ctx, s.ContestID)
	logger.Info(ctx, "submission scored",
		zap.String("submission_id", s.ID),
		zap.String("status", a.status),
		zap.Int("points", a.points),
		zap.Int("credited", a.credits),
	)
}

// invalidateLeaderboard drops the global standings and, for contest submissions, the contest ones.
func (o *Orchestrator) invalidateLeaderboard(ctx context.Context, contestID *int64) {
	if o.leaderboard == nil {
		return
	}
	scopes := []string{repository.LeaderboardScope(nil)}
	if contestID != nil {
		scopes = append(scopes, repository.LeaderboardScope(contestID))
	}
	ctxCache, cancel := withTimeout(ctx, o.timeouts.Cache)
	defer cancel()
	if err := o.leaderboard.Invalidate(ctxCache, scopes...); err != nil {
		logger.Warn(ctx, "invalidate leaderboard failed", zap.Error(err))
	}
}

// storedAward rebuilds the award of an already terminal submission from its stored row.
func storedAward(s *repository.Submission) award {
	return award{status: s.Status, verdict: s.Verdict, points: s.Points, credits: s.CreditedTestCases}
}

func snapshot(s *repository.Submission, cases []executor.CaseResult) *PollResult {
	result := &PollResult{
		SubmissionID:   s.ID,
		TotalTestCases: s.TotalTestCases,
		Results:        make([]CaseView, len(cases)),
	}
	for i, c := range cases {
		switch c.Status {
		case executor.CasePassed:
			result.PassedTestCases++
		case executor.CaseFailed:
			result.FailedTestCases++
		default:
			result.PendingTestCases++
		}
		result.Results[i] = CaseView{
			TestCaseNumber:    i + 1,
			Status:            string(c.Status),
			StatusDescription: c.Description,
			Output:            c.Output,
			Time:              c.Time,
			Memory:            c.Memory,
		}
	}
	return result
}

// passedNumbers returns the 1-based numbers of passed test cases, ascending.
func passedNumbers(cases []executor.CaseResult) []int {
	var numbers []int
	for i, c := range cases {
		if c.Status == executor.CasePassed {
			numbers = append(numbers, i+1)
		}
	}
	return numbers
}

func difference(all, remove []int) []int {
	skip := make(map[int]struct{}, len(remove))
	for _, n := range remove {
		skip[n] = struct{}{}
	}
	var out []int
	for _, n := range all {
		if _, ok := skip[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

func tokenStates(cases []executor.CaseResult) []repository.Token {
	tokens := make([]repository.Token, len(cases))
	for i, c := range cases {
		tokens[i] = repository.Token{Position: i, Passed: c.Status == executor.CasePassed, Status: string(c.Status)}
	}
	return tokens
}

func (o *Orchestrator) cachedResult(ctx context.Context, userID, submissionID string) *PollResult {
	if o.results == nil {
		return nil
	}
	ctxCache, cancel := withTimeout(ctx, o.timeouts.Cache)
	defer cancel()
	payload, err := o.results.Get(ctxCache, submissionID)
	if err != nil {
		logger.Warn(ctx, "read result cache failed", zap.Error(err))
		return nil
	}
	if payload == "" {
		return nil
	}
	var cached cachedResult
	if err := json.Unmarshal([]byte(payload), &cached); err != nil || cached.Result == nil {
		return nil
	}
	if cached.UserID != userID {
		return nil
	}
	return cached.Result
}

func (o *Orchestrator) storeResult(ctx context.Context, userID string, result *PollResult) {
	if o.results == nil || result.PendingTestCases > 0 {
		return
	}
	if result.Status != repository.StatusCompleted && result.Status != repository.StatusFailed {
		return
	}
	payload, err := json.Marshal(cachedResult{UserID: userID, Result: result})
	if err != nil {
		return
	}
	ctxCache, cancel := withTimeout(ctx, o.timeouts.Cache)
	defer cancel()
	if err := o.results.Set(ctxCache, result.SubmissionID, string(payload)); err != nil {
		logger.Warn(ctx, "write result cache failed", zap.Error(err))
	}
}
