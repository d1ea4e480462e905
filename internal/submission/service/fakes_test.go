package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/common/mq"
	"codearena/internal/executor"
	"codearena/internal/language"
	problemRepo "codearena/internal/problem/repository"
	problemService "codearena/internal/problem/service"
	"codearena/internal/submission/repository"
	pkgerrors "codearena/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var errUnsupported = errors.New("not supported by fake")

// fakeDatabase runs transactions one at a time, which is what row locks give the real scorer.
// Writes made to store inside a transaction are undone when fn fails.
type fakeDatabase struct {
	mu    sync.Mutex
	txs   int
	store *memStore
}

type fakeTx struct{}

func (fakeTx) Query(context.Context, string, ...interface{}) (db.Rows, error) {
	return nil, errUnsupported
}
func (fakeTx) QueryRow(context.Context, string, ...interface{}) db.Row { return nil }
func (fakeTx) Exec(context.Context, string, ...interface{}) (db.Result, error) {
	return nil, errUnsupported
}
func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

func (d *fakeDatabase) Query(context.Context, string, ...interface{}) (db.Rows, error) {
	return nil, errUnsupported
}
func (d *fakeDatabase) QueryRow(context.Context, string, ...interface{}) db.Row { return nil }
func (d *fakeDatabase) Exec(context.Context, string, ...interface{}) (db.Result, error) {
	return nil, errUnsupported
}

func (d *fakeDatabase) Transaction(_ context.Context, fn func(tx db.Transaction) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txs++
	var before *memState
	if d.store != nil {
		before = d.store.snapshot()
	}
	err := fn(fakeTx{})
	if err != nil && before != nil {
		d.store.restore(before)
	}
	return err
}

func (d *fakeDatabase) BeginTx(context.Context, *db.TxOptions) (db.Transaction, error) {
	return nil, errUnsupported
}
func (d *fakeDatabase) Ping(context.Context) error { return nil }
func (d *fakeDatabase) Close() error               { return nil }
func (d *fakeDatabase) Stats() db.Stats            { return db.Stats{} }

// memStore backs the submission, ledger, solved and stats repositories.
type memStore struct {
	mu sync.Mutex
	memState
	standings   int
	completeErr error
	upsertErr   error
	// onStandings runs after an aggregation has been read, outside the store lock.
	onStandings func()
}

type memState struct {
	submissions map[string]*repository.Submission
	order       []string
	ledger      map[string]map[int]bool
	solved      map[string]bool
}

func newMemStore() *memStore {
	return &memStore{memState: memState{
		submissions: make(map[string]*repository.Submission),
		ledger:      make(map[string]map[int]bool),
		solved:      make(map[string]bool),
	}}
}

func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &memState{
		submissions: make(map[string]*repository.Submission, len(m.submissions)),
		order:       append([]string(nil), m.order...),
		ledger:      make(map[string]map[int]bool, len(m.ledger)),
		solved:      make(map[string]bool, len(m.solved)),
	}
	for id, s := range m.submissions {
		st.submissions[id] = cloneSubmission(s)
	}
	for k, numbers := range m.ledger {
		copied := make(map[int]bool, len(numbers))
		for n := range numbers {
			copied[n] = true
		}
		st.ledger[k] = copied
	}
	for k := range m.solved {
		st.solved[k] = true
	}
	return st
}

func (m *memStore) restore(st *memState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memState = *st
}

func ledgerKey(key repository.LedgerKey) string {
	return fmt.Sprintf("%s|%d|%d", key.UserID, key.ProblemID, repository.ContestKey(key.ContestID))
}

func cloneSubmission(s *repository.Submission) *repository.Submission {
	out := *s
	out.Tokens = append([]repository.Token(nil), s.Tokens...)
	return &out
}

func (m *memStore) Create(_ context.Context, _ db.Transaction, s *repository.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(s.Tokens) != s.TotalTestCases {
		return fmt.Errorf("submission %s has %d tokens for %d test cases", s.ID, len(s.Tokens), s.TotalTestCases)
	}
	m.submissions[s.ID] = cloneSubmission(s)
	m.order = append(m.order, s.ID)
	return nil
}

func (m *memStore) GetByID(_ context.Context, _ db.Transaction, id string) (*repository.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	return cloneSubmission(s), nil
}

func (m *memStore) GetForUpdate(ctx context.Context, tx db.Transaction, id string) (*repository.Submission, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	s, err := m.GetByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	s.Tokens = nil
	return s, nil
}

func (m *memStore) Complete(_ context.Context, _ db.Transaction, id string, outcome repository.Outcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok || s.Status != repository.StatusPending {
		return false, nil
	}
	s.Status = outcome.Status
	s.Verdict = outcome.Verdict
	s.PassedTestCases = outcome.PassedTestCases
	s.Points = outcome.Points
	s.CreditedTestCases = outcome.CreditedTestCases
	if m.completeErr != nil {
		return false, m.completeErr
	}
	return true, nil
}

func (m *memStore) UpdateTokens(_ context.Context, _ db.Transaction, id string, tokens []repository.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return repository.ErrSubmissionNotFound
	}
	for _, t := range tokens {
		s.Tokens[t.Position].Passed = t.Passed
		s.Tokens[t.Position].Status = t.Status
	}
	return nil
}

func (m *memStore) ListByUser(_ context.Context, _ db.Transaction, filter repository.HistoryFilter) ([]repository.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Submission
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.submissions[m.order[i]]
		if s.UserID != filter.UserID || s.ProblemID != filter.ProblemID {
			continue
		}
		if filter.ContestID != nil && repository.ContestKey(s.ContestID) != *filter.ContestID {
			continue
		}
		out = append(out, *cloneSubmission(s))
	}
	return out, nil
}

func (m *memStore) Credited(_ context.Context, _ db.Transaction, key repository.LedgerKey, numbers []int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for _, n := range numbers {
		if m.ledger[ledgerKey(key)][n] {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (m *memStore) Credit(_ context.Context, _ db.Transaction, key repository.LedgerKey, numbers []int, _ time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ledgerKey(key)
	if m.ledger[k] == nil {
		m.ledger[k] = make(map[int]bool)
	}
	inserted := 0
	for _, n := range numbers {
		if !m.ledger[k][n] {
			m.ledger[k][n] = true
			inserted++
		}
	}
	return inserted, nil
}

func (m *memStore) credited(key repository.LedgerKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledger[ledgerKey(key)])
}

func (m *memStore) Upsert(_ context.Context, _ db.Transaction, key repository.LedgerKey, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.solved[ledgerKey(key)] = true
	return nil
}

func (m *memStore) CountByUser(_ context.Context, _ db.Transaction, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for k := range m.solved {
		if strings.HasPrefix(k, userID+"|") {
			count++
		}
	}
	return count, nil
}

func (m *memStore) SubmissionTotals(_ context.Context, _ db.Transaction, userID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	points, count := 0, 0
	for _, s := range m.submissions {
		if s.UserID == userID {
			points += s.Points
			count++
		}
	}
	return points, count, nil
}

func (m *memStore) Standings(_ context.Context, _ db.Transaction, contestID *int64) ([]repository.LeaderboardRow, error) {
	if m.onStandings != nil {
		defer m.onStandings()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.standings++
	byUser := make(map[string]*repository.LeaderboardRow)
	for _, s := range m.submissions {
		if contestID != nil && repository.ContestKey(s.ContestID) != *contestID {
			continue
		}
		row, ok := byUser[s.UserID]
		if !ok {
			row = &repository.LeaderboardRow{UserID: s.UserID}
			byUser[s.UserID] = row
		}
		row.TotalPoints += s.Points
		row.TotalSubmissions++
		if s.Status == repository.StatusCompleted {
			row.CompletedSubmissions++
		}
	}
	rows := make([]repository.LeaderboardRow, 0, len(byUser))
	for _, row := range byUser {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalPoints != rows[j].TotalPoints {
			return rows[i].TotalPoints > rows[j].TotalPoints
		}
		return rows[i].UserID < rows[j].UserID
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

const pythonTemplate = "import sys\n\n# User Code Starts\n# User Code Ends\n\nprint(solve(sys.stdin.read()))\n"

type fakeProblems struct {
	problems map[string]*problemRepo.Problem
	cases    map[int64][]problemService.TestCase
	visible  int
}

func newFakeProblems() *fakeProblems {
	sum := &problemRepo.Problem{ID: 1, Name: "sum", Title: "Sum", TotalPoints: 300, TestCaseCount: 3}
	return &fakeProblems{
		problems: map[string]*problemRepo.Problem{"sum": sum},
		cases: map[int64][]problemService.TestCase{
			1: {
				{Index: 0, Input: "1", Output: "out-1"},
				{Index: 1, Input: "2", Output: "out-2"},
				{Index: 2, Input: "3", Output: "out-3"},
			},
		},
		visible: 2,
	}
}

func (f *fakeProblems) Resolve(_ context.Context, name string) (*problemRepo.Problem, error) {
	p, ok := f.problems[name]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
	}
	return p, nil
}

func (f *fakeProblems) ResolveByID(_ context.Context, id int64) (*problemRepo.Problem, error) {
	for _, p := range f.problems {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
}

func (f *fakeProblems) AllTestCases(_ context.Context, p *problemRepo.Problem) ([]problemService.TestCase, error) {
	return f.cases[p.ID], nil
}

func (f *fakeProblems) VisibleTestCases(_ context.Context, p *problemRepo.Problem) ([]problemService.TestCase, error) {
	cases := f.cases[p.ID]
	if len(cases) > f.visible {
		cases = cases[:f.visible]
	}
	return cases, nil
}

func (f *fakeProblems) Template(_ context.Context, _ *problemRepo.Problem, lang language.Lang) (string, error) {
	if lang != language.Python {
		return "", pkgerrors.New(pkgerrors.TemplateMissing)
	}
	return pythonTemplate, nil
}

type fakeAdmission struct {
	admitErr error
	dqErr    error
	admitted []int64
}

func (f *fakeAdmission) Admit(_ context.Context, _ string, contestID int64, _ time.Time) error {
	if f.admitErr != nil {
		return f.admitErr
	}
	f.admitted = append(f.admitted, contestID)
	return nil
}

func (f *fakeAdmission) CheckDisqualified(context.Context, string, int64) error {
	return f.dqErr
}

// fakeExecutor grades units by the marker words in their program:
// "solve_all" passes everything, "solve_two" fails stdin 3, "syntax_error" does not compile.
type fakeExecutor struct {
	mu        sync.Mutex
	next      int
	units     map[string]executor.Unit
	batches   int
	polls     int
	inFlight  bool
	slowPolls int
	submitErr error
	pollErr   error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{units: make(map[string]executor.Unit)}
}

func (f *fakeExecutor) SubmitBatch(_ context.Context, units []executor.Unit) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.batches++
	tokens := make([]string, len(units))
	for i, u := range units {
		f.next++
		tokens[i] = fmt.Sprintf("tok-%d", f.next)
		f.units[tokens[i]] = u
	}
	return tokens, nil
}

func (f *fakeExecutor) PollBatch(_ context.Context, tokens []string) ([]executor.RawResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	slow := f.inFlight || f.slowPolls > 0
	if f.slowPolls > 0 {
		f.slowPolls--
	}
	out := make([]executor.RawResult, len(tokens))
	for i, token := range tokens {
		u := f.units[token]
		out[i] = executor.RawResult{Token: token, Status: executor.StatusProcessing, Time: "0.01", Memory: 1024}
		if slow {
			continue
		}
		switch {
		case strings.Contains(u.Program, "syntax_error"):
			out[i].Status = executor.StatusCompilationError
			out[i].CompileOutput = "SyntaxError"
		case strings.Contains(u.Program, "solve_all"),
			strings.Contains(u.Program, "solve_two") && u.Stdin != "3":
			out[i].Status = executor.StatusAccepted
			out[i].Stdout = u.ExpectedOutput
		default:
			out[i].Status = executor.StatusWrongAnswer
			out[i].Stdout = "wrong"
		}
	}
	return out, nil
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []*mq.Message
}

func (p *fakeProducer) Publish(_ context.Context, _ string, message *mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func (p *fakeProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type harness struct {
	orch      *Orchestrator
	queries   *QueryService
	db        *fakeDatabase
	store     *memStore
	exec      *fakeExecutor
	problems  *fakeProblems
	admission *fakeAdmission
	producer  *fakeProducer
	cache     cache.Cache
	redis     *miniredis.Miniredis
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	store := newMemStore()
	h := &harness{
		db:        &fakeDatabase{store: store},
		store:     store,
		exec:      newFakeExecutor(),
		problems:  newFakeProblems(),
		admission: &fakeAdmission{},
		producer:  &fakeProducer{},
		cache:     rc,
		redis:     mr,
	}
	leaderboard := repository.NewLeaderboardCache(rc, time.Minute)
	cfg := Config{
		DB:          db.NewPool(h.db),
		Submissions: h.store,
		Ledger:      h.store,
		Solved:      h.store,
		Problems:    h.problems,
		Admission:   h.admission,
		Executor:    h.exec,
		Cache:       rc,
		Leaderboard: leaderboard,
		Events:      NewVerdictPublisher(h.producer, "submission.verdicts", time.Second),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	h.orch, err = NewOrchestrator(cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	h.orch.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	h.queries, err = NewQueryService(QueryConfig{
		Submissions: h.store,
		Solved:      h.store,
		Stats:       h.store,
		Leaderboard: leaderboard,
		Problems:    h.problems,
	})
	if err != nil {
		t.Fatalf("NewQueryService: %v", err)
	}
	return h
}

func (h *harness) submit(t *testing.T, userID, marker string, contestID *int64) *CreateResult {
	t.Helper()
	result, err := h.orch.Create(context.Background(), CreateInput{
		UserID:      userID,
		ProblemName: "sum",
		Language:    "python",
		SourceCode:  "def solve(s):\n    return " + marker + "\n",
		ContestID:   contestID,
	})
	if err != nil {
		t.Fatalf("Create(%s): %v", marker, err)
	}
	return result
}

func (h *harness) poll(t *testing.T, userID, submissionID string) *PollResult {
	t.Helper()
	result, err := h.orch.Poll(context.Background(), userID, submissionID)
	if err != nil {
		t.Fatalf("Poll(%s): %v", submissionID, err)
	}
	return result
}
