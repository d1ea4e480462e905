package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const (
	ServiceSubmission = "submission"
	ActionWait        = "wait"
)

var submitFields = []Field{
	{Name: "problem", Aliases: []string{"problem_name", "problemName"}, Prompt: "problem name", Required: true, Wire: "problemName"},
	{Name: "language", Aliases: []string{"lang"}, Prompt: "language (c, cpp, python, java, javascript)", Required: true},
	{Name: "source_code", Aliases: []string{"code"}, Prompt: "source code", Required: true},
	{Name: "source_file", Aliases: []string{"file"}, Type: FieldFile, Fills: "source_code"},
	{Name: "contest", Aliases: []string{"contest_id", "contestId"}, Type: FieldInt64, Wire: "contestId"},
}

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	createFields := append(append([]Field{}, submitFields...),
		Field{Name: "idempotency_key", Aliases: []string{"key"}, In: InHeader, Wire: "Idempotency-Key"})

	commands := []Command{
		{
			Service:      ServiceSubmission,
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions",
			Summary:      "submit code for grading against every test case",
			Fields:       createFields,
		},
		{
			Service:      ServiceSubmission,
			Action:       "poll",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			Summary:      "fetch the current status of a submission",
			Fields: []Field{
				{Name: "id", Prompt: "submission id", Required: true, In: InPath},
			},
		},
		{
			Service:      ServiceSubmission,
			Action:       ActionWait,
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			Summary:      "poll a submission until it reaches a terminal status",
			Fields: []Field{
				{Name: "id", Prompt: "submission id", Required: true, In: InPath},
				{Name: "attempts", Type: FieldInt, In: InLocal},
				{Name: "interval", Type: FieldDuration, In: InLocal},
			},
		},
		{
			Service:      ServiceSubmission,
			Action:       "run",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions/run",
			Summary:      "run code against the sample test cases without grading",
			Fields:       submitFields,
		},
		{
			Service:      ServiceSubmission,
			Action:       "history",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions",
			Summary:      "list your submissions to a problem, newest first",
			Fields: []Field{
				{Name: "problem", Aliases: []string{"problem_name", "problemName"}, In: InQuery, Wire: "problemName"},
				{Name: "problem_id", Aliases: []string{"problemId"}, Type: FieldInt64, In: InQuery, Wire: "problemId"},
				{Name: "contest", Aliases: []string{"contest_id", "contestId"}, Type: FieldInt64, In: InQuery, Wire: "contestId"},
			},
		},
		{
			Service:      "user",
			Action:       "stats",
			Method:       "GET",
			PathTemplate: "/api/v1/users/me/stats",
			Summary:      "show your points, submissions and solved problems",
		},
		{
			Service:      "leaderboard",
			Action:       "show",
			Method:       "GET",
			PathTemplate: "/api/v1/leaderboard",
			Summary:      "show global or per-contest standings (admin)",
			Fields: []Field{
				{Name: "contest", Aliases: []string{"contest_id", "contestId"}, Type: FieldInt64, In: InQuery, Wire: "contestId"},
			},
		},
		{
			Service:      "contest",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/contests/:id/status",
			Summary:      "show contest timing and your disqualification flag",
			Fields: []Field{
				{Name: "id", Aliases: []string{"contest"}, Prompt: "contest id", Type: FieldInt64, Required: true, In: InPath},
			},
		},
		{
			Service:      "contest",
			Action:       "violation",
			Method:       "POST",
			PathTemplate: "/api/v1/contests/violations",
			Summary:      "report a contest rule violation",
			Fields: []Field{
				{Name: "contest", Aliases: []string{"contest_id", "contestId"}, Prompt: "contest id", Type: FieldInt64, Required: true, Wire: "contestId"},
				{Name: "problem_id", Aliases: []string{"problemId"}, Prompt: "problem id", Type: FieldInt64, Required: true, Wire: "problemId"},
				{Name: "reason", Prompt: "reason", Required: true},
			},
		},
		{
			Service:      "contest",
			Action:       "disqualify",
			Method:       "POST",
			PathTemplate: "/api/v1/contests/disqualifications",
			Summary:      "set or lift a disqualification flag",
			Fields: []Field{
				{Name: "contest", Aliases: []string{"contest_id", "contestId"}, Prompt: "contest id", Type: FieldInt64, Required: true, Wire: "contestId"},
				{Name: "user", Aliases: []string{"user_id", "userId"}, Wire: "userId"},
				{Name: "disqualified", Aliases: []string{"value"}, Prompt: "disqualified (true/false)", Type: FieldBool, Required: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// SortedKeys lists registry keys in a stable order for help output.
func SortedKeys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    []byte
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	spec := RequestSpec{
		Method:  cmd.Method,
		Path:    cmd.PathTemplate,
		Query:   url.Values{},
		Headers: map[string]string{},
	}

	if err := resolveFiles(cmd.Fields, params); err != nil {
		return RequestSpec{}, err
	}
	if missing := cmd.Missing(params); len(missing) > 0 {
		return RequestSpec{}, fmt.Errorf("missing parameter: %s", missing[0].Name)
	}

	payload := map[string]interface{}{}
	for _, field := range cmd.Fields {
		raw := params.Get(field.Name)
		if raw == "" || field.Type == FieldFile {
			continue
		}
		value, err := convert(field, raw)
		if err != nil {
			return RequestSpec{}, err
		}
		switch field.In {
		case InPath:
			spec.Path = strings.ReplaceAll(spec.Path, ":"+field.Name, url.PathEscape(strings.TrimSpace(raw)))
		case InQuery:
			spec.Query.Set(field.wireName(), strings.TrimSpace(raw))
		case InHeader:
			spec.Headers[field.wireName()] = raw
		case InBody:
			payload[field.wireName()] = value
		}
	}
	if strings.Contains(spec.Path, "/:") {
		return RequestSpec{}, fmt.Errorf("missing path parameter in %s", spec.Path)
	}

	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		body, err := json.Marshal(payload)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
		}
		spec.Body = body
	}
	return spec, nil
}

// resolveFiles loads FieldFile values into the field they fill unless that field is already set.
func resolveFiles(fields []Field, params Params) error {
	for _, field := range fields {
		if field.Type != FieldFile || field.Fills == "" {
			continue
		}
		path := params.Get(field.Name)
		if path == "" || params.Get(field.Fills) != "" {
			continue
		}
		data, err := ReadFile(path)
		if err != nil {
			return err
		}
		params.Set(field.Fills, data)
	}
	return nil
}
