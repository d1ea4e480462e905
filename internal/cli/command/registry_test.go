package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func mustCommand(t *testing.T, key string) Command {
	t.Helper()
	cmd, ok := Registry()[key]
	if !ok {
		t.Fatalf("command %q not registered", key)
	}
	return cmd
}

func decodeBody(t *testing.T, body []byte) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode body %s: %v", body, err)
	}
	return payload
}

func TestRegistryCoversCommands(t *testing.T) {
	want := []string{
		"submission create", "submission poll", "submission wait", "submission run", "submission history",
		"user stats", "leaderboard show", "contest status", "contest violation", "contest disqualify",
	}
	commands := Registry()
	if len(commands) != len(want) {
		t.Fatalf("registry has %d commands, want %d", len(commands), len(want))
	}
	for _, key := range want {
		if _, ok := commands[key]; !ok {
			t.Fatalf("missing %q", key)
		}
	}
}

func TestBuildSubmissionCreate(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "main.py")
	if err := os.WriteFile(source, []byte("print(1)\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	params, err := ParseArgs([]string{"problemName=sum", "lang=python", "file=" + source, "contest=5", "key=abc"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	req, err := BuildRequest(mustCommand(t, "submission create"), params)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if req.Method != "POST" || req.Path != "/api/v1/submissions" || req.Headers["Idempotency-Key"] != "abc" {
		t.Fatalf("req = %+v", req)
	}
	payload := decodeBody(t, req.Body)
	if payload["problemName"] != "sum" || payload["language"] != "python" || payload["source_code"] != "print(1)\n" {
		t.Fatalf("payload = %v", payload)
	}
	if payload["contestId"] != float64(5) {
		t.Fatalf("contestId = %v", payload["contestId"])
	}
	if _, ok := payload["source_file"]; ok {
		t.Fatal("source_file must not be sent")
	}
}

func TestBuildRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		args []string
	}{
		{name: "missing source", key: "submission run", args: []string{"problem=sum", "language=python"}},
		{name: "unreadable file", key: "submission run", args: []string{"problem=sum", "language=python", "file=/nope/missing.py"}},
		{name: "bad contest", key: "submission create", args: []string{"problem=sum", "language=python", "code=x", "contest=abc"}},
		{name: "missing path id", key: "submission poll", args: nil},
		{name: "bad bool", key: "contest disqualify", args: []string{"contest=1", "disqualified=maybe"}},
		{name: "bad interval", key: "submission wait", args: []string{"id=s1", "interval=soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := ParseArgs(tt.args)
			if err != nil {
				t.Fatalf("ParseArgs: %v", err)
			}
			if _, err := BuildRequest(mustCommand(t, tt.key), params); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBuildQueryAndPathCommands(t *testing.T) {
	params, _ := ParseArgs([]string{"problem=sum", "contestId=3"})
	req, err := BuildRequest(mustCommand(t, "submission history"), params)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if req.Body != nil || req.Query.Get("problemName") != "sum" || req.Query.Get("contestId") != "3" {
		t.Fatalf("history req = %+v", req)
	}

	params, _ = ParseArgs([]string{"id=9f1c", "attempts=3"})
	req, err = BuildRequest(mustCommand(t, "submission wait"), params)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if req.Path != "/api/v1/submissions/9f1c" || len(req.Query) != 0 {
		t.Fatalf("wait req = %+v", req)
	}

	params, _ = ParseArgs([]string{"contest=4"})
	req, err = BuildRequest(mustCommand(t, "contest status"), params)
	if err != nil || req.Path != "/api/v1/contests/4/status" {
		t.Fatalf("status req = %+v, %v", req, err)
	}
}

func TestBuildDisqualify(t *testing.T) {
	params, _ := ParseArgs([]string{"contest=2", "user=bob", "disqualified=false"})
	req, err := BuildRequest(mustCommand(t, "contest disqualify"), params)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	payload := decodeBody(t, req.Body)
	if payload["contestId"] != float64(2) || payload["userId"] != "bob" || payload["disqualified"] != false {
		t.Fatalf("payload = %v", payload)
	}
}

func TestMissingHonoursFileFields(t *testing.T) {
	cmd := mustCommand(t, "submission create")
	missing := cmd.Missing(Params{"problem": "sum", "source_file": "main.py"})
	if len(missing) != 1 || missing[0].Name != "language" {
		t.Fatalf("missing = %+v", missing)
	}
}

func TestParseArgsRejectsBareTokens(t *testing.T) {
	if _, err := ParseArgs([]string{"problem"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := ParseArgs([]string{"=x"}); err == nil {
		t.Fatal("expected error")
	}
}
