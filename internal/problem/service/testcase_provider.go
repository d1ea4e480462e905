package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"codearena/internal/problem/repository"
	pkgerrors "codearena/pkg/errors"

	"golang.org/x/sync/errgroup"
)

const (
	testCaseDir         = "test_cases"
	defaultVisibleCount = 3
	defaultReadParallel = 8
)

var (
	testCaseFilePattern = regexp.MustCompile(`^(\d+)\.(in|out)\.txt$`)
	trailingNewlines    = regexp.MustCompile(`\n+$`)
)

// TestCase is one (input, expected output) pair; Index is the zero-based position.
type TestCase struct {
	Index  int    `json:"index"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// TestCaseProviderConfig tunes test case loading.
type TestCaseProviderConfig struct {
	VisibleCount int
	ReadParallel int
}

// TestCaseProvider loads a problem's test cases from the asset store.
type TestCaseProvider struct {
	assets       repository.AssetStore
	visibleCount int
	readParallel int
}

func NewTestCaseProvider(assets repository.AssetStore, cfg TestCaseProviderConfig) *TestCaseProvider {
	if cfg.VisibleCount <= 0 {
		cfg.VisibleCount = defaultVisibleCount
	}
	if cfg.ReadParallel <= 0 {
		cfg.ReadParallel = defaultReadParallel
	}
	return &TestCaseProvider{
		assets:       assets,
		visibleCount: cfg.VisibleCount,
		readParallel: cfg.ReadParallel,
	}
}

// All returns every test case of the problem ordered by numeric index.
func (p *TestCaseProvider) All(ctx context.Context, problemName string) ([]TestCase, error) {
	indexes, err := p.indexes(ctx, problemName)
	if err != nil {
		return nil, err
	}
	return p.load(ctx, problemName, indexes)
}

// Visible returns the first visibleCount test cases.
func (p *TestCaseProvider) Visible(ctx context.Context, problemName string) ([]TestCase, error) {
	indexes, err := p.indexes(ctx, problemName)
	if err != nil {
		return nil, err
	}
	if len(indexes) > p.visibleCount {
		indexes = indexes[:p.visibleCount]
	}
	return p.load(ctx, problemName, indexes)
}

// Count returns the number of test cases without reading their contents.
func (p *TestCaseProvider) Count(ctx context.Context, problemName string) (int, error) {
	indexes, err := p.indexes(ctx, problemName)
	if err != nil {
		return 0, err
	}
	return len(indexes), nil
}

// indexes lists file numbers that have an input file, ascending numerically.
func (p *TestCaseProvider) indexes(ctx context.Context, problemName string) ([]int, error) {
	names, err := p.assets.List(ctx, path.Join(problemName, testCaseDir))
	if err != nil {
		if errors.Is(err, repository.ErrAssetNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.TestCaseNotFound, "no test cases for problem %s", problemName)
		}
		if errors.Is(err, repository.ErrInvalidPath) {
			return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return nil, pkgerrors.Wrapf(err, pkgerrors.StorageError, "list test cases failed")
	}

	inputs := make(map[int]bool)
	outputs := make(map[int]bool)
	for _, name := range names {
		match := testCaseFilePattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if match[2] == "in" {
			inputs[n] = true
		} else {
			outputs[n] = true
		}
	}

	indexes := make([]int, 0, len(inputs))
	for n := range inputs {
		if !outputs[n] {
			return nil, pkgerrors.Newf(pkgerrors.TestCaseInvalid, "test case %d of %s has no expected output", n, problemName)
		}
		indexes = append(indexes, n)
	}
	if len(indexes) == 0 {
		return nil, pkgerrors.Newf(pkgerrors.TestCaseNotFound, "no test cases for problem %s", problemName)
	}
	sort.Ints(indexes)
	return indexes, nil
}

func (p *TestCaseProvider) load(ctx context.Context, problemName string, indexes []int) ([]TestCase, error) {
	cases := make([]TestCase, len(indexes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.readParallel)
	for i, n := range indexes {
		i, n := i, n
		g.Go(func() error {
			input, err := p.read(gctx, problemName, n, "in")
			if err != nil {
				return err
			}
			output, err := p.read(gctx, problemName, n, "out")
			if err != nil {
				return err
			}
			cases[i] = TestCase{Index: i, Input: input, Output: output}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var appErr *pkgerrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, pkgerrors.Wrapf(err, pkgerrors.StorageError, "load test cases failed")
	}
	return cases, nil
}

func (p *TestCaseProvider) read(ctx context.Context, problemName string, n int, kind string) (string, error) {
	rel := path.Join(problemName, testCaseDir, fmt.Sprintf("%d.%s.txt", n, kind))
	data, err := p.assets.ReadFile(ctx, rel)
	if err != nil {
		if errors.Is(err, repository.ErrAssetNotFound) {
			return "", pkgerrors.Newf(pkgerrors.TestCaseNotFound, "test case file %s missing", rel)
		}
		return "", err
	}
	return stripTrailingNewlines(string(data)), nil
}

func stripTrailingNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return trailingNewlines.ReplaceAllString(s, "")
}
