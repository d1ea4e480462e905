package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codearena/internal/common/metrics"
	"codearena/internal/common/mq"
	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultCPUTimeLimit  = 2.0
	defaultMemoryLimitKB = 512000
	defaultMaxConcurrent = 16
	maxResponseBytes     = 16 << 20

	pollFields = "token,status,stdout,stderr,compile_output,time,memory"
)

// Config holds executor client settings.
type Config struct {
	BaseURL       string        `yaml:"baseURL"`
	AuthHeader    string        `yaml:"authHeader"`
	AuthToken     string        `yaml:"authToken"`
	Timeout       time.Duration `yaml:"timeout"`
	CPUTimeLimit  float64       `yaml:"cpuTimeLimit"`
	MemoryLimitKB int           `yaml:"memoryLimitKB"`
	MaxConcurrent int           `yaml:"maxConcurrent"`
	ProbeDelay    time.Duration `yaml:"probeDelay"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.CPUTimeLimit <= 0 {
		c.CPUTimeLimit = defaultCPUTimeLimit
	}
	if c.MemoryLimitKB <= 0 {
		c.MemoryLimitKB = defaultMemoryLimitKB
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
}

// Judge0Client implements Executor against the Judge0 batch API.
type Judge0Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	limiter *mq.TokenLimiter
	metrics *metrics.Metrics
}

func NewJudge0Client(cfg Config, m *metrics.Metrics) (*Judge0Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("executor baseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid executor baseURL: %w", err)
	}
	cfg.applyDefaults()
	return &Judge0Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: mq.NewTokenLimiter(cfg.MaxConcurrent),
		metrics: m,
	}, nil
}

type batchSubmitRequest struct {
	Submissions []submissionPayload `json:"submissions"`
}

type submissionPayload struct {
	LanguageID     int     `json:"language_id"`
	SourceCode     string  `json:"source_code"`
	Stdin          string  `json:"stdin"`
	ExpectedOutput string  `json:"expected_output"`
	CPUTimeLimit   float64 `json:"cpu_time_limit"`
	MemoryLimit    int     `json:"memory_limit"`
}

// tokenPayload has an empty Token when Judge0 rejected the unit.
type tokenPayload struct {
	Token string `json:"token"`
}

type batchPollResponse struct {
	Submissions []*resultPayload `json:"submissions"`
}

type resultPayload struct {
	Token  string `json:"token"`
	Status *struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
	Stdout        *string     `json:"stdout"`
	Stderr        *string     `json:"stderr"`
	CompileOutput *string     `json:"compile_output"`
	Time          json.Number `json:"time"`
	Memory        *int        `json:"memory"`
}

// SubmitBatch dispatches every unit in one request and returns one token per unit in order.
func (c *Judge0Client) SubmitBatch(ctx context.Context, units []Unit) ([]string, error) {
	if len(units) == 0 {
		return nil, pkgerrors.New(pkgerrors.InvalidParams).WithMessage("empty batch")
	}
	req := batchSubmitRequest{Submissions: make([]submissionPayload, len(units))}
	for i, u := range units {
		if !u.Language.Valid() {
			return nil, pkgerrors.New(pkgerrors.LanguageNotSupported)
		}
		cpu := u.CPUTimeLimit
		if cpu <= 0 {
			cpu = c.cfg.CPUTimeLimit
		}
		mem := u.MemoryLimitKB
		if mem <= 0 {
			mem = c.cfg.MemoryLimitKB
		}
		req.Submissions[i] = submissionPayload{
			LanguageID:     u.Language.ExecutorID(),
			SourceCode:     encode(u.Program),
			Stdin:          encode(u.Stdin),
			ExpectedOutput: encode(u.ExpectedOutput),
			CPUTimeLimit:   cpu,
			MemoryLimit:    mem,
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.InternalServerError, "encode batch failed")
	}

	var tokens []tokenPayload
	if err := c.do(ctx, "submit", http.MethodPost, "/submissions/batch?base64_encoded=true", body, &tokens); err != nil {
		return nil, err
	}
	if len(tokens) != len(units) {
		return nil, pkgerrors.Newf(pkgerrors.ExecutorBadResponse, "executor returned %d tokens for %d units", len(tokens), len(units))
	}
	out := make([]string, len(tokens))
	for i, t := range tokens {
		if t.Token == "" {
			return nil, pkgerrors.Newf(pkgerrors.ExecutorBadResponse, "executor rejected unit %d", i)
		}
		out[i] = t.Token
	}
	return out, nil
}

// PollBatch fetches results for tokens in order. Unknown tokens come back as in-flight.
func (c *Judge0Client) PollBatch(ctx context.Context, tokens []string) ([]RawResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	query := url.Values{}
	query.Set("tokens", strings.Join(tokens, ","))
	query.Set("base64_encoded", "true")
	query.Set("fields", pollFields)

	var resp batchPollResponse
	if err := c.do(ctx, "poll", http.MethodGet, "/submissions/batch?"+query.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Submissions) != len(tokens) {
		return nil, pkgerrors.Newf(pkgerrors.ExecutorBadResponse, "executor returned %d results for %d tokens", len(resp.Submissions), len(tokens))
	}

	results := make([]RawResult, len(tokens))
	for i, token := range tokens {
		payload := resp.Submissions[i]
		if payload == nil {
			results[i] = RawResult{Token: token, Status: StatusQueued}
			continue
		}
		raw, err := payload.decode()
		if err != nil {
			return nil, pkgerrors.Wrapf(err, pkgerrors.ExecutorBadResponse, "decode result %d failed", i)
		}
		raw.Token = token
		results[i] = raw
	}
	return results, nil
}

func (c *Judge0Client) do(ctx context.Context, op, method, path string, body []byte, out interface{}) error {
	if err := c.limiter.Acquire(ctx); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.ExecutorUnavailable, "executor %s canceled", op)
	}
	defer c.limiter.Release()

	start := time.Now()
	err := c.doOnce(ctx, method, path, body, out)
	c.metrics.ObserveExecutor(op, time.Since(start), err)
	if err != nil {
		logger.Warn(ctx, "executor call failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}

func (c *Judge0Client) doOnce(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.InternalServerError, "build executor request failed")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthHeader != "" && c.cfg.AuthToken != "" {
		req.Header.Set(c.cfg.AuthHeader, c.cfg.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.ExecutorUnavailable, "executor request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.ExecutorUnavailable, "read executor response failed")
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return pkgerrors.Newf(pkgerrors.ExecutorUnavailable, "executor returned status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pkgerrors.Newf(pkgerrors.ExecutorBadResponse, "executor returned status %d: %s", resp.StatusCode, truncate(string(data), 256))
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.ExecutorBadResponse, "decode executor response failed")
	}
	return nil
}

func (p *resultPayload) decode() (RawResult, error) {
	raw := RawResult{Token: p.Token, Status: StatusQueued}
	if p.Status != nil {
		raw.Status = Status(p.Status.ID)
		raw.Description = p.Status.Description
	}
	var err error
	if raw.Stdout, err = decodeField(p.Stdout); err != nil {
		return raw, fmt.Errorf("stdout: %w", err)
	}
	if raw.Stderr, err = decodeField(p.Stderr); err != nil {
		return raw, fmt.Errorf("stderr: %w", err)
	}
	if raw.CompileOutput, err = decodeField(p.CompileOutput); err != nil {
		return raw, fmt.Errorf("compile_output: %w", err)
	}
	raw.Time = p.Time.String()
	if p.Memory != nil {
		raw.Memory = *p.Memory
	}
	return raw, nil
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// decodeField tolerates the line breaks Judge0 inserts into long base64 values.
func decodeField(v *string) (string, error) {
	if v == nil || *v == "" {
		return "", nil
	}
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, *v)
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
