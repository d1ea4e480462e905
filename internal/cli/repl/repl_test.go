package repl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codearena/internal/cli/command"
	httpclient "codearena/internal/cli/http"
	"codearena/internal/cli/state"
)

type scriptedReader struct {
	lines   []string
	prompts []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) SetPrompt(p string) {
	r.prompts = append(r.prompts, p)
}

type harness struct {
	session  *Session
	reader   *scriptedReader
	out      *bytes.Buffer
	identity *state.Identity
	sleeps   int
}

func newHarness(t *testing.T, handler http.HandlerFunc) *harness {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	h := &harness{reader: &scriptedReader{}, out: &bytes.Buffer{}, identity: &state.Identity{}}
	client := httpclient.New(srv.URL, time.Second, IdentityHeaders(h.identity))
	h.session = New(client, command.Registry(), h.identity, h.reader, h.out, Options{
		StatePath:    filepath.Join(t.TempDir(), "state.json"),
		WaitInterval: time.Millisecond,
		WaitAttempts: 3,
	})
	h.session.sleep = func(ctx context.Context, _ time.Duration) error {
		h.sleeps++
		return ctx.Err()
	}
	return h
}

func pollBody(status string, passed int) string {
	return fmt.Sprintf(`{"code":10000,"message":"Success","data":{"status":%q,"passedTestCases":%d,"totalTestCases":3}}`, status, passed)
}

func TestExecuteSendsIdentityAndPromptsForMissing(t *testing.T) {
	var (
		mu      sync.Mutex
		gotUser string
		gotBody string
	)
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotUser = r.Header.Get("X-User-Id")
		gotBody = string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"code":10000}`))
	})
	ctx := context.Background()

	if err := h.session.Execute(ctx, "set user alice"); err != nil {
		t.Fatalf("set user: %v", err)
	}
	h.reader.lines = []string{"python"}
	if err := h.session.Execute(ctx, `submission create problem=sum code="print(1)"`); err != nil {
		t.Fatalf("create: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotUser != "alice" {
		t.Fatalf("X-User-Id = %q", gotUser)
	}
	if !strings.Contains(gotBody, `"language":"python"`) || !strings.Contains(gotBody, `"source_code":"print(1)"`) {
		t.Fatalf("body = %s", gotBody)
	}
	if !strings.Contains(h.out.String(), "HTTP 201") {
		t.Fatalf("output = %s", h.out.String())
	}

	saved, err := state.Load(h.session.opts.StatePath)
	if err != nil || saved.UserID != "alice" {
		t.Fatalf("saved identity = %+v, %v", saved, err)
	}
}

func TestWaitStopsAtTerminalStatus(t *testing.T) {
	var calls int32
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			_, _ = w.Write([]byte(pollBody("pending", 1)))
			return
		}
		_, _ = w.Write([]byte(pollBody("completed", 3)))
	})
	if err := h.session.Execute(context.Background(), "submission wait id=s1"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 || h.sleeps != 1 {
		t.Fatalf("calls = %d, sleeps = %d", atomic.LoadInt32(&calls), h.sleeps)
	}
	if !strings.Contains(h.out.String(), "attempt 1/3: pending (1/3 passed)") {
		t.Fatalf("output = %s", h.out.String())
	}
}

func TestWaitTimesOutWithoutMutation(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		_, _ = w.Write([]byte(pollBody("pending", 0)))
	})
	err := h.session.Execute(context.Background(), "submission wait id=s1 attempts=2")
	if err == nil || !strings.Contains(err.Error(), "still pending after 2 attempts") {
		t.Fatalf("err = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(methods) != 2 || methods[0] != http.MethodGet || methods[1] != http.MethodGet {
		t.Fatalf("methods = %v", methods)
	}
}

func TestWaitSurfacesServerError(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":10404,"message":"Submission not found"}`))
	})
	if err := h.session.Execute(context.Background(), "submission wait id=nope"); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(h.out.String(), "HTTP 404") {
		t.Fatalf("output = %s", h.out.String())
	}
}

func TestSystemCommands(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx := context.Background()

	if err := h.session.Execute(ctx, "exit"); !errors.Is(err, ErrExit) {
		t.Fatalf("exit err = %v", err)
	}
	if err := h.session.Execute(ctx, "set token abcdefghijklmnop"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if err := h.session.Execute(ctx, "show identity"); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(h.out.String(), "token: abcdef...mnop") {
		t.Fatalf("output = %s", h.out.String())
	}
	if err := h.session.Execute(ctx, "set token -"); err != nil || h.identity.AccessToken != "" {
		t.Fatalf("clear token: %v, %q", err, h.identity.AccessToken)
	}
	for _, line := range []string{"set", "set timeout soon", "show nothing", "bogus", "bogus cmd", `submission poll id="open`} {
		if err := h.session.Execute(ctx, line); err == nil {
			t.Fatalf("%q: expected error", line)
		}
	}
	if err := h.session.Execute(ctx, "help"); err != nil || !strings.Contains(h.out.String(), "submission wait") {
		t.Fatalf("help: %v", err)
	}
}

func TestLogoutForgetsIdentity(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
	)
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = r.Header.Clone()
		mu.Unlock()
		_, _ = w.Write([]byte(`{"code":10000}`))
	})
	ctx := context.Background()

	for _, line := range []string{"set user alice", "set role admin", "set token abc"} {
		if err := h.session.Execute(ctx, line); err != nil {
			t.Fatalf("%q: %v", line, err)
		}
	}
	if err := h.session.Execute(ctx, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if *h.identity != (state.Identity{}) {
		t.Fatalf("identity = %+v, want empty", *h.identity)
	}
	if _, err := os.Stat(h.session.opts.StatePath); !os.IsNotExist(err) {
		t.Fatalf("state file still present: %v", err)
	}
	if err := h.session.Execute(ctx, "logout"); err != nil {
		t.Fatalf("second logout: %v", err)
	}

	if err := h.session.Execute(ctx, "submission poll id=s1"); err != nil {
		t.Fatalf("poll: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, name := range []string{"X-User-Id", "X-User-Role", "Authorization"} {
		if v := headers.Get(name); v != "" {
			t.Fatalf("%s = %q after logout", name, v)
		}
	}
}

func TestRunStopsOnEOF(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	h.reader.lines = []string{"", "help"}
	h.session.Run(context.Background())
	if !strings.Contains(h.out.String(), "commands:") {
		t.Fatalf("output = %s", h.out.String())
	}
}
