package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"codearena/internal/common/db"
	"codearena/internal/common/mq"
	"codearena/internal/contest/repository"
	pkgerrors "codearena/pkg/errors"
)

type fakeContests struct {
	contests map[int64]*repository.Contest
	calls    int
}

func (f *fakeContests) GetByID(_ context.Context, _ db.Transaction, id int64) (*repository.Contest, error) {
	f.calls++
	c, ok := f.contests[id]
	if !ok {
		return nil, repository.ErrContestNotFound
	}
	return c, nil
}

func (f *fakeContests) List(context.Context, db.Transaction) ([]repository.Contest, error) {
	var out []repository.Contest
	for _, c := range f.contests {
		out = append(out, *c)
	}
	return out, nil
}

type fakeDisqualifications struct {
	mu   sync.Mutex
	rows map[string]*repository.Disqualification
	gets int
	err  error
}

func key(userID string, contestID int64) string {
	return fmt.Sprintf("%s:%d", userID, contestID)
}

func (f *fakeDisqualifications) Upsert(_ context.Context, _ db.Transaction, userID string, contestID int64, flag bool, at time.Time) (*repository.Disqualification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &repository.Disqualification{UserID: userID, ContestID: contestID, Disqualified: flag, UpdatedAt: at}
	if flag {
		d.DisqualifiedAt = &at
	}
	f.rows[key(userID, contestID)] = d
	return d, nil
}

func (f *fakeDisqualifications) Get(_ context.Context, _ db.Transaction, userID string, contestID int64) (*repository.Disqualification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.rows[key(userID, contestID)]
	if !ok {
		return nil, repository.ErrDisqualificationNotFound
	}
	return d, nil
}

type fakeViolations struct {
	created []*repository.Violation
}

func (f *fakeViolations) Create(_ context.Context, _ db.Transaction, v *repository.Violation) error {
	v.ID = int64(len(f.created) + 1)
	f.created = append(f.created, v)
	return nil
}

func (f *fakeViolations) Count(_ context.Context, _ db.Transaction, userID string, contestID int64) (int64, error) {
	var n int64
	for _, v := range f.created {
		if v.UserID == userID && v.ContestID == contestID {
			n++
		}
	}
	return n, nil
}

type fakeProducer struct {
	topics   []string
	messages []*mq.Message
}

func (f *fakeProducer) Publish(_ context.Context, topic string, msg *mq.Message) error {
	f.topics = append(f.topics, topic)
	f.messages = append(f.messages, msg)
	return nil
}

var contestStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newFixture() (*fakeContests, *fakeDisqualifications, *repository.DisqualificationCache, *AdmissionGuard) {
	contests := &fakeContests{contests: map[int64]*repository.Contest{
		7: {ID: 7, Title: "Spring Cup", StartTime: contestStart, EndTime: contestStart.Add(2 * time.Hour)},
	}}
	disq := &fakeDisqualifications{rows: map[string]*repository.Disqualification{}}
	dc := repository.NewDisqualificationCache(repository.NewLRUCache[bool](16, time.Minute), nil, 0, 0)
	return contests, disq, dc, NewAdmissionGuard(contests, disq, dc, nil)
}

func TestAdmit(t *testing.T) {
	_, disq, _, guard := newFixture()
	disq.rows[key("banned", 7)] = &repository.Disqualification{UserID: "banned", ContestID: 7, Disqualified: true}
	disq.rows[key("cleared", 7)] = &repository.Disqualification{UserID: "cleared", ContestID: 7, Disqualified: false}

	during := contestStart.Add(time.Hour)
	end := contestStart.Add(2 * time.Hour)
	tests := []struct {
		name      string
		userID    string
		contestID int64
		now       time.Time
		want      pkgerrors.ErrorCode
	}{
		{"ongoing", "alice", 7, during, pkgerrors.Success},
		{"cleared flag", "cleared", 7, during, pkgerrors.Success},
		{"disqualified", "banned", 7, during, pkgerrors.Disqualified},
		{"disqualified after end", "banned", 7, end.Add(time.Hour), pkgerrors.Disqualified},
		{"exactly at end", "alice", 7, end, pkgerrors.ContestEnded},
		{"after end", "alice", 7, end.Add(time.Minute), pkgerrors.ContestEnded},
		{"unknown contest", "alice", 99, during, pkgerrors.ContestNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Admit(context.Background(), tt.userID, tt.contestID, tt.now)
			if got := pkgerrors.GetCode(err); got != tt.want {
				t.Fatalf("code = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestIsDisqualifiedUsesCache(t *testing.T) {
	_, disq, _, guard := newFixture()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		flag, err := guard.IsDisqualified(ctx, "alice", 7)
		if err != nil || flag {
			t.Fatalf("IsDisqualified = %v, %v", flag, err)
		}
	}
	if disq.gets != 1 {
		t.Fatalf("database reads = %d, want 1", disq.gets)
	}
}

func TestIsDisqualifiedDatabaseError(t *testing.T) {
	_, disq, _, guard := newFixture()
	disq.err = errors.New("connection reset")
	_, err := guard.IsDisqualified(context.Background(), "alice", 7)
	if !pkgerrors.Is(err, pkgerrors.DatabaseError) {
		t.Fatalf("err = %v, want DatabaseError", err)
	}
}

func TestSetDisqualificationInvalidatesAndPublishes(t *testing.T) {
	_, disq, dc, guard := newFixture()
	producer := &fakeProducer{}
	svc := NewContestService(ContestServiceConfig{
		Guard:        guard,
		Disqualified: disq,
		Violations:   &fakeViolations{},
		Cache:        dc,
		Producer:     producer,
		EventTopic:   "contest.disqualifications",
	})
	ctx := context.Background()

	if flag, _ := guard.IsDisqualified(ctx, "alice", 7); flag {
		t.Fatal("alice should start cleared")
	}
	record, err := svc.SetDisqualification(ctx, "alice", 7, true)
	if err != nil {
		t.Fatalf("SetDisqualification: %v", err)
	}
	if !record.Disqualified || record.DisqualifiedAt == nil {
		t.Fatalf("record = %+v", record)
	}
	if flag, _ := guard.IsDisqualified(ctx, "alice", 7); !flag {
		t.Fatal("stale cached flag served after update")
	}

	if len(producer.messages) != 1 || producer.topics[0] != "contest.disqualifications" {
		t.Fatalf("published %d messages", len(producer.messages))
	}
	var event DisqualificationEvent
	if err := json.Unmarshal(producer.messages[0].Body, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.UserID != "alice" || event.ContestID != 7 || !event.Disqualified {
		t.Fatalf("event = %+v", event)
	}

	if _, err := svc.SetDisqualification(ctx, "alice", 99, true); !pkgerrors.Is(err, pkgerrors.ContestNotFound) {
		t.Fatalf("unknown contest err = %v", err)
	}
}

func TestReportViolation(t *testing.T) {
	_, disq, dc, guard := newFixture()
	violations := &fakeViolations{}
	svc := NewContestService(ContestServiceConfig{Guard: guard, Disqualified: disq, Violations: violations, Cache: dc})
	ctx := context.Background()

	err := svc.ReportViolation(ctx, &repository.Violation{UserID: "alice", ContestID: 7, ProblemID: 3, Reason: "  tab switch "})
	if err != nil {
		t.Fatalf("ReportViolation: %v", err)
	}
	if len(violations.created) != 1 || violations.created[0].Reason != "tab switch" {
		t.Fatalf("created = %+v", violations.created)
	}
	if err := svc.ReportViolation(ctx, &repository.Violation{UserID: "alice", ContestID: 7, ProblemID: 3, Reason: " "}); !pkgerrors.Is(err, pkgerrors.ValidationFailed) {
		t.Fatalf("blank reason err = %v", err)
	}
}

func TestStatus(t *testing.T) {
	_, disq, dc, guard := newFixture()
	svc := NewContestService(ContestServiceConfig{Guard: guard, Disqualified: disq, Violations: &fakeViolations{}, Cache: dc})
	svc.now = func() time.Time { return contestStart.Add(-time.Minute) }

	view, err := svc.Status(context.Background(), "alice", 7)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if view.Status != repository.ContestUpcoming || view.Disqualified {
		t.Fatalf("view = %+v", view)
	}
}

func TestDisqualificationConsumerInvalidatesLocal(t *testing.T) {
	local := repository.NewLRUCache[bool](16, time.Minute)
	dc := repository.NewDisqualificationCache(local, nil, 0, 0)
	dc.Store(context.Background(), "alice", 7, false)
	consumer := NewDisqualificationConsumer(nil, dc)

	body, _ := json.Marshal(DisqualificationEvent{EventType: EventDisqualificationChanged, UserID: "alice", ContestID: 7, Disqualified: true})
	if err := consumer.HandleMessage(context.Background(), mq.NewMessage(body)); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if _, found, _ := dc.Lookup(context.Background(), "alice", 7); found {
		t.Fatal("local entry should be dropped")
	}
	if err := consumer.HandleMessage(context.Background(), mq.NewMessage([]byte("not json"))); err != nil {
		t.Fatalf("malformed events should be dropped, got %v", err)
	}
	if err := consumer.Subscribe(context.Background(), "topic", "group"); err == nil {
		t.Fatal("Subscribe without a queue should fail")
	}
}
