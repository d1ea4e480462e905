package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codearena/internal/assembler"
	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/common/metrics"
	"codearena/internal/executor"
	"codearena/internal/language"
	problemRepo "codearena/internal/problem/repository"
	problemService "codearena/internal/problem/service"
	"codearena/internal/submission/repository"
	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultProbeDelay = time.Second

	messageCreated = "Submission created successfully"
	messageHalted  = "Submission halted due to Compilation Error"
)

// ProblemSource resolves problems and loads their assets.
type ProblemSource interface {
	Resolve(ctx context.Context, name string) (*problemRepo.Problem, error)
	ResolveByID(ctx context.Context, problemID int64) (*problemRepo.Problem, error)
	AllTestCases(ctx context.Context, problem *problemRepo.Problem) ([]problemService.TestCase, error)
	VisibleTestCases(ctx context.Context, problem *problemRepo.Problem) ([]problemService.TestCase, error)
	Template(ctx context.Context, problem *problemRepo.Problem, lang language.Lang) (string, error)
}

// Admission decides whether a user may act inside a contest.
type Admission interface {
	Admit(ctx context.Context, userID string, contestID int64, now time.Time) error
	CheckDisqualified(ctx context.Context, userID string, contestID int64) error
}

// Config holds Orchestrator dependencies and settings.
type Config struct {
	DB          db.Provider
	Submissions repository.SubmissionRepository
	Ledger      repository.LedgerRepository
	Solved      repository.SolvedProblemRepository
	Problems    ProblemSource
	Admission   Admission
	Executor    executor.Executor
	Cache       cache.BasicOps
	Results     *repository.ResultCache
	Leaderboard *repository.LeaderboardCache
	Archiver    *SourceArchiver
	Events      *VerdictPublisher
	Metrics     *metrics.Metrics

	MaxCodeBytes   int
	ProbeDelay     time.Duration
	RunPollDelay   time.Duration
	IdempotencyTTL time.Duration
	RateLimit      RateLimitConfig
	Timeouts       TimeoutConfig
}

// Orchestrator drives a submission from dispatch to its scored terminal state.
// It keeps no per-submission state in memory; every decision is taken from stored rows.
type Orchestrator struct {
	db          db.Provider
	submissions repository.SubmissionRepository
	ledger      repository.LedgerRepository
	solved      repository.SolvedProblemRepository
	problems    ProblemSource
	admission   Admission
	executor    executor.Executor
	results     *repository.ResultCache
	leaderboard *repository.LeaderboardCache
	archiver    *SourceArchiver
	events      *VerdictPublisher
	metrics     *metrics.Metrics
	guard       *requestGuard

	maxCodeBytes int
	probeDelay   time.Duration
	runPollDelay time.Duration
	timeouts     TimeoutConfig
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger repository is required")
	}
	if cfg.Solved == nil {
		return nil, fmt.Errorf("solved problem repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem source is required")
	}
	if cfg.Admission == nil {
		return nil, fmt.Errorf("admission guard is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.ProbeDelay < 0 {
		cfg.ProbeDelay = 0
	} else if cfg.ProbeDelay == 0 {
		cfg.ProbeDelay = defaultProbeDelay
	}
	if cfg.RunPollDelay <= 0 {
		cfg.RunPollDelay = cfg.ProbeDelay
	}
	return &Orchestrator{
		db:          cfg.DB,
		submissions: cfg.Submissions,
		ledger:      cfg.Ledger,
		solved:      cfg.Solved,
		problems:    cfg.Problems,
		admission:   cfg.Admission,
		executor:    cfg.Executor,
		results:     cfg.Results,
		leaderboard: cfg.Leaderboard,
		archiver:    cfg.Archiver,
		events:      cfg.Events,
		metrics:     cfg.Metrics,
		guard: &requestGuard{
			cache:          cfg.Cache,
			rateLimit:      cfg.RateLimit,
			idempotencyTTL: cfg.IdempotencyTTL,
			timeout:        cfg.Timeouts.Cache,
		},
		maxCodeBytes: cfg.MaxCodeBytes,
		probeDelay:   cfg.ProbeDelay,
		runPollDelay: cfg.RunPollDelay,
		timeouts:     cfg.Timeouts,
		now:          time.Now,
		sleep:        sleepCtx,
	}, nil
}

// CreateInput describes a graded submission request.
type CreateInput struct {
	UserID         string
	ProblemName    string
	Language       string
	SourceCode     string
	ContestID      *int64
	IdempotencyKey string
	ClientIP       string
}

// CreateResult is returned as soon as every test case is dispatched.
type CreateResult struct {
	SubmissionID       string `json:"submissionId"`
	Message            string `json:"message"`
	Halted             bool   `json:"halted"`
	HaltReason         string `json:"haltReason,omitempty"`
	TestCasesSubmitted int    `json:"testCasesSubmitted"`
	TotalTestCases     int    `json:"totalTestCases"`
}

// prepared is an assembled program with the test cases it will run against.
type prepared struct {
	lang      language.Lang
	problem   *problemRepo.Problem
	program   string
	testCases []problemService.TestCase
}

// Create dispatches the submission against every test case of the problem and stores it.
// It never waits for the test cases to finish.
func (o *Orchestrator) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	if err := o.validate(input.UserID, input.ProblemName, input.SourceCode); err != nil {
		return nil, err
	}
	if err := o.guard.checkRateLimit(ctx, input.UserID, input.ClientIP); err != nil {
		return nil, err
	}
	acquired, existingID, err := o.guard.acquire(ctx, input.UserID, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if !acquired && existingID != "" {
		return o.replay(ctx, input.UserID, existingID)
	}

	result, err := o.create(ctx, input)
	if err != nil {
		o.guard.release(ctx, input.UserID, input.IdempotencyKey, acquired)
		return nil, err
	}
	o.guard.finalize(ctx, input.UserID, input.IdempotencyKey, result.SubmissionID, acquired)
	return result, nil
}

func (o *Orchestrator) create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	lang, err := parseLanguage(input.Language)
	if err != nil {
		return nil, err
	}
	if input.ContestID != nil {
		if err := o.admission.Admit(ctx, input.UserID, *input.ContestID, o.now()); err != nil {
			o.metrics.SubmissionCreated(lang.String(), "rejected")
			return nil, err
		}
	}
	p, err := o.prepare(ctx, lang, input.ProblemName, input.SourceCode, o.problems.AllTestCases)
	if err != nil {
		return nil, err
	}

	tokens, err := o.executor.SubmitBatch(ctx, o.units(p))
	if err != nil {
		o.metrics.SubmissionCreated(lang.String(), "executor_error")
		return nil, err
	}
	if len(tokens) != len(p.testCases) {
		return nil, pkgerrors.Invariant("executor returned %d tokens for %d units", len(tokens), len(p.testCases))
	}

	halted := o.probeCompilation(ctx, tokens[0])
	submission := &repository.Submission{
		ID:             uuid.NewString(),
		UserID:         input.UserID,
		ProblemID:      p.problem.ID,
		ContestID:      input.ContestID,
		Language:       lang.String(),
		SourceCode:     input.SourceCode,
		Status:         repository.StatusPending,
		TotalTestCases: len(p.testCases),
		CreatedAt:      o.now().UTC(),
		Tokens:         make([]repository.Token, len(tokens)),
	}
	for i, token := range tokens {
		submission.Tokens[i] = repository.Token{Position: i, Token: token, Status: string(executor.CasePending)}
	}
	if halted {
		submission.Status = repository.StatusFailed
		submission.Verdict = repository.VerdictCompilationError
	}

	ctxDB, cancel := withTimeout(ctx, o.timeouts.DB)
	err = o.submissions.Create(ctxDB, nil, submission)
	cancel()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.SubmissionCreateFailed, "create submission failed")
	}

	if o.archiver != nil {
		if err := o.archiver.Archive(ctx, submission.ID, lang, input.SourceCode); err != nil {
			logger.Warn(ctx, "archive submission source failed", zap.String("submission_id", submission.ID), zap.Error(err))
		}
	}

	o.invalidateLeaderboard(ctx, submission.ContestID)

	result := &CreateResult{
		SubmissionID:       submission.ID,
		Message:            messageCreated,
		TestCasesSubmitted: len(tokens),
		TotalTestCases:     len(p.testCases),
	}
	outcome := "dispatched"
	if halted {
		result.Message = messageHalted
		result.Halted = true
		result.HaltReason = executor.DescriptionCompilationError
		outcome = "halted"
		o.metrics.VerdictRecorded(submission.Status, 0, 0)
		o.events.Publish(ctx, submission, submission.CreatedAt)
	}
	o.metrics.SubmissionCreated(lang.String(), outcome)
	logger.Info(ctx, "submission created",
		zap.String("submission_id", submission.ID),
		zap.Int64("problem_id", p.problem.ID),
		zap.String("language", lang.String()),
		zap.Int("test_cases", len(p.testCases)),
		zap.Bool("halted", halted),
	)
	return result, nil
}

// replay answers a repeated Idempotency-Key with the submission it produced.
func (o *Orchestrator) replay(ctx context.Context, userID, submissionID string) (*CreateResult, error) {
	submission, err := o.load(ctx, userID, submissionID)
	if err != nil {
		return nil, err
	}
	result := &CreateResult{
		SubmissionID:       submission.ID,
		Message:            messageCreated,
		TestCasesSubmitted: len(submission.Tokens),
		TotalTestCases:     submission.TotalTestCases,
	}
	if submission.Verdict == repository.VerdictCompilationError && submission.PassedTestCases == 0 && submission.Points == 0 {
		result.Message = messageHalted
		result.Halted = true
		result.HaltReason = executor.DescriptionCompilationError
	}
	return result, nil
}

// probeCompilation waits probeDelay and checks whether the first unit failed to compile.
// Any inconclusive outcome, including a probe error, reports false.
func (o *Orchestrator) probeCompilation(ctx context.Context, token string) bool {
	if err := o.sleep(ctx, o.probeDelay); err != nil {
		return false
	}
	results, err := o.executor.PollBatch(ctx, []string{token})
	if err != nil {
		logger.Debug(ctx, "compilation probe failed", zap.Error(err))
		return false
	}
	return len(results) == 1 && results[0].Status == executor.StatusCompilationError
}

func (o *Orchestrator) prepare(
	ctx context.Context,
	lang language.Lang,
	problemName, source string,
	loadCases func(context.Context, *problemRepo.Problem) ([]problemService.TestCase, error),
) (*prepared, error) {
	problem, err := o.problems.Resolve(ctx, problemName)
	if err != nil {
		return nil, err
	}
	template, err := o.problems.Template(ctx, problem, lang)
	if err != nil {
		return nil, err
	}
	program, err := assembler.Assemble(source, lang, template)
	if err != nil {
		return nil, err
	}
	testCases, err := loadCases(ctx, problem)
	if err != nil {
		return nil, err
	}
	if len(testCases) == 0 {
		return nil, pkgerrors.New(pkgerrors.TestCaseNotFound)
	}
	return &prepared{lang: lang, problem: problem, program: program, testCases: testCases}, nil
}

func (o *Orchestrator) units(p *prepared) []executor.Unit {
	units := make([]executor.Unit, len(p.testCases))
	cpu := float64(p.problem.TimeLimitMS) / 1000
	for i, tc := range p.testCases {
		units[i] = executor.Unit{
			Language:       p.lang,
			Program:        p.program,
			Stdin:          tc.Input,
			ExpectedOutput: tc.Output,
			CPUTimeLimit:   cpu,
			MemoryLimitKB:  p.problem.MemoryLimitKB,
		}
	}
	return units
}

func (o *Orchestrator) validate(userID, problemName, source string) error {
	if strings.TrimSpace(userID) == "" {
		return pkgerrors.New(pkgerrors.Unauthorized)
	}
	if strings.TrimSpace(problemName) == "" {
		return pkgerrors.ValidationError("problemName", "required")
	}
	if strings.TrimSpace(source) == "" {
		return pkgerrors.ValidationError("sourceCode", "required")
	}
	if o.maxCodeBytes > 0 && len(source) > o.maxCodeBytes {
		return pkgerrors.New(pkgerrors.CodeTooLarge)
	}
	return nil
}

// load fetches a submission owned by userID. Other users' submissions are reported as missing.
func (o *Orchestrator) load(ctx context.Context, userID, submissionID string) (*repository.Submission, error) {
	if _, err := uuid.Parse(submissionID); err != nil {
		return nil, pkgerrors.New(pkgerrors.SubmissionNotFound)
	}
	ctxDB, cancel := withTimeout(ctx, o.timeouts.DB)
	defer cancel()
	submission, err := o.submissions.GetByID(ctxDB, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, pkgerrors.New(pkgerrors.SubmissionNotFound)
		}
		return nil, pkgerrors.Wrapf(err, pkgerrors.DatabaseError, "get submission failed")
	}
	if submission.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.SubmissionNotFound)
	}
	return submission, nil
}

func parseLanguage(name string) (language.Lang, error) {
	lang, err := language.Parse(name)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.LanguageNotSupported).
			WithDetail("supported", language.Names())
	}
	return lang, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
