package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"codearena/internal/language"
	pkgerrors "codearena/pkg/errors"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func newClient(t *testing.T, handler http.HandlerFunc) *Judge0Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewJudge0Client(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second, AuthHeader: "X-Auth-Token", AuthToken: "secret"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSubmitBatchEncodesUnitsInOrder(t *testing.T) {
	var got batchSubmitRequest
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/submissions/batch" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("base64_encoded") != "true" {
			t.Error("base64_encoded flag missing")
		}
		if r.Header.Get("X-Auth-Token") != "secret" {
			t.Error("auth header missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`[{"token":"a"},{"token":"b"}]`))
	})

	tokens, err := client.SubmitBatch(context.Background(), []Unit{
		{Language: language.Python, Program: "print(1)", Stdin: "1", ExpectedOutput: "1"},
		{Language: language.Python, Program: "print(1)", Stdin: "2", ExpectedOutput: "2", CPUTimeLimit: 5},
	})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if strings.Join(tokens, ",") != "a,b" {
		t.Fatalf("tokens = %v", tokens)
	}
	if len(got.Submissions) != 2 {
		t.Fatalf("submissions = %d", len(got.Submissions))
	}
	first := got.Submissions[0]
	if first.LanguageID != 71 || first.SourceCode != b64("print(1)") || first.Stdin != b64("1") {
		t.Fatalf("first unit = %+v", first)
	}
	if first.CPUTimeLimit != defaultCPUTimeLimit || first.MemoryLimit != defaultMemoryLimitKB {
		t.Fatalf("defaults not applied: %+v", first)
	}
	if got.Submissions[1].CPUTimeLimit != 5 || got.Submissions[1].ExpectedOutput != b64("2") {
		t.Fatalf("second unit = %+v", got.Submissions[1])
	}
}

func TestSubmitBatchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   pkgerrors.ErrorCode
	}{
		{name: "server error", status: 503, body: `{}`, want: pkgerrors.ExecutorUnavailable},
		{name: "bad request", status: 422, body: `{"error":"x"}`, want: pkgerrors.ExecutorBadResponse},
		{name: "token count mismatch", status: 201, body: `[{"token":"a"}]`, want: pkgerrors.ExecutorBadResponse},
		{name: "rejected unit", status: 201, body: `[{"token":"a"},{"language_id":["bad"]}]`, want: pkgerrors.ExecutorBadResponse},
		{name: "garbage", status: 200, body: `not json`, want: pkgerrors.ExecutorBadResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			units := []Unit{{Language: language.C, Program: "x"}, {Language: language.C, Program: "x"}}
			_, err := client.SubmitBatch(context.Background(), units)
			if got := pkgerrors.GetCode(err); got != tt.want {
				t.Fatalf("code = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestSubmitBatchTransportFailure(t *testing.T) {
	client, err := NewJudge0Client(Config{BaseURL: "http://127.0.0.1:1", Timeout: 500 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.SubmitBatch(context.Background(), []Unit{{Language: language.C, Program: "x"}})
	if !pkgerrors.Is(err, pkgerrors.ExecutorUnavailable) {
		t.Fatalf("err = %v, want ExecutorUnavailable", err)
	}
}

func TestPollBatchPreservesOrder(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tokens") != "t1,t2,t3" {
			t.Errorf("tokens = %q", r.URL.Query().Get("tokens"))
		}
		if !strings.Contains(r.URL.Query().Get("fields"), "compile_output") {
			t.Error("fields missing compile_output")
		}
		_, _ = w.Write([]byte(`{"submissions":[
			{"token":"t1","status":{"id":3,"description":"Accepted"},"stdout":"` + b64("42\n") + `","time":"0.012","memory":2048},
			{"token":"t2","status":{"id":6,"description":"Compilation Error"},"compile_output":"` + b64("error: x") + `","time":null,"memory":null},
			null
		]}`))
	})

	results, err := client.PollBatch(context.Background(), []string{"t1", "t2", "t3"})
	if err != nil {
		t.Fatalf("PollBatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len = %d", len(results))
	}
	if results[0].Status != StatusAccepted || results[0].Stdout != "42\n" || results[0].Time != "0.012" || results[0].Memory != 2048 {
		t.Fatalf("results[0] = %+v", results[0])
	}
	if results[1].CompileOutput != "error: x" || results[1].Time != "" {
		t.Fatalf("results[1] = %+v", results[1])
	}
	if results[2].Token != "t3" || !results[2].Status.InFlight() {
		t.Fatalf("results[2] = %+v", results[2])
	}
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		_, _ = w.Write([]byte(`{"submissions":[{"token":"a","status":{"id":1}}]}`))
	}))
	defer srv.Close()

	client, err := NewJudge0Client(Config{BaseURL: srv.URL, MaxConcurrent: 2}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			_, _ = client.PollBatch(context.Background(), []string{"a"})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	if peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
}
