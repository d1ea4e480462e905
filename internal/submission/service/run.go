package service

import (
	"context"

	"codearena/internal/executor"
	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

const messageRun = "Code executed successfully"

// RunInput describes an ungraded run against the sample test cases.
type RunInput struct {
	UserID      string
	ProblemName string
	Language    string
	SourceCode  string
	ContestID   *int64
}

// RunCase is one sample test case outcome. Unfinished cases stay pending.
type RunCase struct {
	TestCaseID        int    `json:"testCaseId"`
	Status            string `json:"status"`
	StatusDescription string `json:"statusDescription"`
	Output            string `json:"output"`
	ExpectedOutput    string `json:"expectedOutput"`
	Input             string `json:"input"`
	Time              string `json:"time"`
	Memory            int    `json:"memory"`
}

type RunResult struct {
	Message string    `json:"message"`
	Results []RunCase `json:"results"`
}

// Run executes the program against the visible test cases and waits briefly for the results.
// Nothing is persisted and no points are involved.
func (o *Orchestrator) Run(ctx context.Context, input RunInput) (*RunResult, error) {
	if err := o.validate(input.UserID, input.ProblemName, input.SourceCode); err != nil {
		return nil, err
	}
	if input.ContestID != nil {
		if err := o.admission.CheckDisqualified(ctx, input.UserID, *input.ContestID); err != nil {
			return nil, err
		}
	}
	lang, err := parseLanguage(input.Language)
	if err != nil {
		return nil, err
	}
	p, err := o.prepare(ctx, lang, input.ProblemName, input.SourceCode, o.problems.VisibleTestCases)
	if err != nil {
		return nil, err
	}

	tokens, err := o.executor.SubmitBatch(ctx, o.units(p))
	if err != nil {
		return nil, err
	}
	if len(tokens) != len(p.testCases) {
		return nil, pkgerrors.Invariant("executor returned %d tokens for %d units", len(tokens), len(p.testCases))
	}

	cases, err := o.awaitRun(ctx, tokens)
	if err != nil {
		return nil, err
	}

	result := &RunResult{Message: messageRun, Results: make([]RunCase, len(cases))}
	for i, c := range cases {
		tc := p.testCases[i]
		result.Results[i] = RunCase{
			TestCaseID:        i + 1,
			Status:            string(c.Status),
			StatusDescription: c.Description,
			Output:            c.Output,
			ExpectedOutput:    tc.Output,
			Input:             tc.Input,
			Time:              c.Time,
			Memory:            c.Memory,
		}
	}
	logger.Debug(ctx, "run finished", zap.String("problem", p.problem.Name), zap.Int("cases", len(cases)))
	return result, nil
}

// awaitRun polls once after runPollDelay and retries once more if any case is still in flight.
func (o *Orchestrator) awaitRun(ctx context.Context, tokens []string) ([]executor.CaseResult, error) {
	var cases []executor.CaseResult
	for attempt := 0; attempt < 2; attempt++ {
		if err := o.sleep(ctx, o.runPollDelay); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.Timeout)
		}
		raws, err := o.executor.PollBatch(ctx, tokens)
		if err != nil {
			return nil, err
		}
		if len(raws) != len(tokens) {
			return nil, pkgerrors.Invariant("executor returned %d results for %d tokens", len(raws), len(tokens))
		}
		cases = make([]executor.CaseResult, len(raws))
		pending := false
		for i, raw := range raws {
			cases[i] = executor.MapResult(raw)
			if cases[i].Status == executor.CasePending {
				pending = true
			}
		}
		if !pending {
			break
		}
	}
	return cases, nil
}
