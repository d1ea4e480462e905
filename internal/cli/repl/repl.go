package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codearena/internal/cli/command"
	httpclient "codearena/internal/cli/http"
	"codearena/internal/cli/state"
	pkgerrors "codearena/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const (
	prompt        = "codearena> "
	statusPending = "pending"
)

// ErrExit is returned by Execute when the user asks to leave.
var ErrExit = errors.New("exit")

// LineReader is the subset of readline.Instance the session needs.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// Options tunes session behaviour.
type Options struct {
	StatePath    string
	PrettyJSON   bool
	WaitInterval time.Duration
	WaitAttempts int
}

// Session holds REPL state.
type Session struct {
	client   *httpclient.Client
	commands map[string]command.Command
	identity *state.Identity
	opts     Options
	reader   LineReader
	out      io.Writer
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(client *httpclient.Client, commands map[string]command.Command, identity *state.Identity, reader LineReader, out io.Writer, opts Options) *Session {
	return &Session{
		client:   client,
		commands: commands,
		identity: identity,
		opts:     opts,
		reader:   reader,
		out:      out,
		sleep:    sleepContext,
	}
}

// NewReadline builds a readline instance with history and command completion.
func NewReadline(historyPath string, commands map[string]command.Command) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyPath,
		AutoComplete:    completer(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

func completer(commands map[string]command.Command) *readline.PrefixCompleter {
	services := map[string][]readline.PrefixCompleterInterface{}
	var order []string
	for _, key := range command.SortedKeys(commands) {
		cmd := commands[key]
		if _, ok := services[cmd.Service]; !ok {
			order = append(order, cmd.Service)
		}
		services[cmd.Service] = append(services[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("logout"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token"),
			readline.PcItem("user"), readline.PcItem("role"), readline.PcItem("pretty")),
		readline.PcItem("show", readline.PcItem("identity"), readline.PcItem("config")),
	}
	for _, service := range order {
		items = append(items, readline.PcItem(service, services[service]...))
	}
	return readline.NewPrefixCompleter(items...)
}

// IdentityHeaders returns the headers that identify the current user.
func IdentityHeaders(identity *state.Identity) httpclient.HeaderProvider {
	return func() map[string]string {
		headers := map[string]string{}
		if identity.AccessToken != "" {
			headers["Authorization"] = "Bearer " + identity.AccessToken
		}
		if identity.UserID != "" {
			headers["X-User-Id"] = identity.UserID
		}
		if identity.Role != "" {
			headers["X-User-Role"] = identity.Role
		}
		return headers
	}
}

func (s *Session) Run(ctx context.Context) {
	for {
		s.reader.SetPrompt(prompt)
		line, err := s.reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, ErrExit) {
				s.printLine("bye")
				return
			}
			s.printLine("error: %v", err)
		}
	}
}

// Execute runs a single input line.
func (s *Session) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	switch tokens[0] {
	case "exit", "quit":
		return ErrExit
	case "help":
		s.printHelp()
		return nil
	case "set":
		return s.handleSet(tokens[1:])
	case "show":
		return s.handleShow(tokens[1:])
	case "logout":
		return s.logout()
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	if cmd.Service == command.ServiceSubmission && cmd.Action == command.ActionWait {
		return s.wait(ctx, req, params)
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Query, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) handleSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set base|timeout|token|user|role|pretty <value>")
	}
	value := args[1]
	switch args[0] {
	case "base":
		s.client.SetBaseURL(value)
		s.printLine("base set to %s", value)
		return nil
	case "timeout":
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
		return nil
	case "pretty":
		s.opts.PrettyJSON = value == "on" || value == "true"
		s.printLine("pretty output %v", s.opts.PrettyJSON)
		return nil
	case "token":
		s.identity.AccessToken = clearable(value)
	case "user":
		s.identity.UserID = clearable(value)
	case "role":
		s.identity.Role = clearable(value)
	default:
		return fmt.Errorf("unknown set target: %s", args[0])
	}
	if err := state.Save(s.opts.StatePath, *s.identity); err != nil {
		return fmt.Errorf("save identity failed: %w", err)
	}
	s.printLine("%s updated", args[0])
	return nil
}

// logout forgets the stored identity both in memory and on disk.
func (s *Session) logout() error {
	*s.identity = state.Identity{}
	if err := state.Clear(s.opts.StatePath); err != nil {
		return err
	}
	s.printLine("identity cleared")
	return nil
}

// clearable maps "-" to an empty value so a setting can be removed.
func clearable(value string) string {
	if value == "-" {
		return ""
	}
	return value
}

func (s *Session) handleShow(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: show identity|config")
	}
	switch args[0] {
	case "identity":
		s.printLine("user: %s", orEmpty(s.identity.UserID))
		s.printLine("role: %s", orEmpty(s.identity.Role))
		s.printLine("token: %s", orEmpty(maskToken(s.identity.AccessToken)))
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("statePath: %s", s.opts.StatePath)
		s.printLine("wait: %d attempts every %s", s.opts.WaitAttempts, s.opts.WaitInterval)
	default:
		return fmt.Errorf("usage: show identity|config")
	}
	return nil
}

func maskToken(token string) string {
	if len(token) > 12 {
		return token[:6] + "..." + token[len(token)-4:]
	}
	return token
}

func orEmpty(value string) string {
	if value == "" {
		return "<empty>"
	}
	return value
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Missing(params) {
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(label string) (string, error) {
	s.reader.SetPrompt(label + ": ")
	defer s.reader.SetPrompt(prompt)
	line, err := s.reader.Readline()
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

type pollEnvelope struct {
	Code    pkgerrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Data    struct {
		Status          string `json:"status"`
		PassedTestCases int    `json:"passedTestCases"`
		TotalTestCases  int    `json:"totalTestCases"`
	} `json:"data"`
}

// wait polls until the submission leaves pending or the attempt ceiling is reached.
// Running out of attempts is reported locally and leaves the submission untouched.
func (s *Session) wait(ctx context.Context, req command.RequestSpec, params command.Params) error {
	attempts := s.opts.WaitAttempts
	if raw := params.Get("attempts"); raw != "" {
		n, err := command.ParseInt(raw)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid attempts: %s", raw)
		}
		attempts = n
	}
	interval := s.opts.WaitInterval
	if raw := params.Get("interval"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid interval: %w", err)
		}
		interval = d
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := s.client.Do(ctx, req.Method, req.Path, req.Query, req.Headers, nil)
		if err != nil {
			return err
		}
		var env pollEnvelope
		if err := json.Unmarshal(resp.Body, &env); err != nil || resp.StatusCode != http.StatusOK || env.Code != pkgerrors.Success {
			s.renderResponse(resp)
			return fmt.Errorf("poll failed on attempt %d", attempt)
		}
		if env.Data.Status != statusPending {
			s.renderResponse(resp)
			return nil
		}
		s.printLine("attempt %d/%d: pending (%d/%d passed)", attempt, attempts, env.Data.PassedTestCases, env.Data.TotalTestCases)
		if attempt < attempts {
			if err := s.sleep(ctx, interval); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("timed out: submission still pending after %d attempts", attempts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.opts.PrettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | logout | set base|timeout|token|user|role|pretty <value> | show identity|config")
	s.printLine("commands:")
	for _, key := range command.SortedKeys(s.commands) {
		s.printLine("  %-20s %s", key, s.commands[key].Summary)
	}
	s.printLine("examples:")
	s.printLine("  set user alice")
	s.printLine("  submission create problem=two-sum language=python file=./main.py")
	s.printLine("  submission wait id=<submissionId> attempts=20 interval=2s")
	s.printLine("  leaderboard show contest=3")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
