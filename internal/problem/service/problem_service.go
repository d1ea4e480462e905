package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"codearena/internal/language"
	"codearena/internal/problem/repository"
	pkgerrors "codearena/pkg/errors"
)

// ProblemService resolves problems and their assets.
type ProblemService struct {
	repo      repository.ProblemRepository
	testCases *TestCaseProvider
	templates *TemplateLoader
}

// NewProblemService creates a new ProblemService.
func NewProblemService(repo repository.ProblemRepository, testCases *TestCaseProvider, templates *TemplateLoader) *ProblemService {
	return &ProblemService{repo: repo, testCases: testCases, templates: templates}
}

// ProblemDetail is the public view of a problem with its sample cases.
type ProblemDetail struct {
	Problem       *repository.Problem
	TestCaseCount int
	Samples       []TestCase
	Languages     []string
}

// Resolve looks a problem up by name.
func (s *ProblemService) Resolve(ctx context.Context, name string) (*repository.Problem, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
	}
	problem, err := s.repo.GetByName(ctx, nil, name)
	if err != nil {
		return nil, mapProblemErr(err)
	}
	return problem, nil
}

// ResolveByID looks a problem up by id.
func (s *ProblemService) ResolveByID(ctx context.Context, problemID int64) (*repository.Problem, error) {
	problem, err := s.repo.GetByID(ctx, nil, problemID)
	if err != nil {
		return nil, mapProblemErr(err)
	}
	return problem, nil
}

// Detail returns problem metadata with the visible test cases.
func (s *ProblemService) Detail(ctx context.Context, name string) (*ProblemDetail, error) {
	problem, err := s.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	count, err := s.testCases.Count(ctx, problem.Name)
	if err != nil {
		return nil, err
	}
	samples, err := s.testCases.Visible(ctx, problem.Name)
	if err != nil {
		return nil, err
	}
	return &ProblemDetail{
		Problem:       problem,
		TestCaseCount: count,
		Samples:       samples,
		Languages:     language.Names(),
	}, nil
}

// AllTestCases returns every test case of the problem.
func (s *ProblemService) AllTestCases(ctx context.Context, problem *repository.Problem) ([]TestCase, error) {
	return s.testCases.All(ctx, problem.Name)
}

// VisibleTestCases returns the sample test cases of the problem.
func (s *ProblemService) VisibleTestCases(ctx context.Context, problem *repository.Problem) ([]TestCase, error) {
	return s.testCases.Visible(ctx, problem.Name)
}

// Template returns the full-program template of the problem for lang.
func (s *ProblemService) Template(ctx context.Context, problem *repository.Problem, lang language.Lang) (string, error) {
	return s.templates.Load(ctx, problem.Name, lang)
}

func mapProblemErr(err error) error {
	if errors.Is(err, repository.ErrProblemNotFound) {
		return pkgerrors.New(pkgerrors.ProblemNotFound)
	}
	return pkgerrors.Wrap(fmt.Errorf("get problem failed: %w", err), pkgerrors.DatabaseError)
}
