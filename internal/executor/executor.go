// Package executor talks to the external sandboxed execution service.
package executor

import (
	"context"

	"codearena/internal/language"
)

// Status is the executor's numeric verdict id.
type Status int

const (
	StatusQueued            Status = 1
	StatusProcessing        Status = 2
	StatusAccepted          Status = 3
	StatusWrongAnswer       Status = 4
	StatusTimeLimitExceeded Status = 5
	StatusCompilationError  Status = 6
	StatusRuntimeSIGSEGV    Status = 7
	StatusRuntimeSIGXFSZ    Status = 8
	StatusRuntimeSIGFPE     Status = 9
	StatusRuntimeSIGABRT    Status = 10
	StatusRuntimeNZEC       Status = 11
	StatusRuntimeOther      Status = 12
	StatusInternalError     Status = 13
	StatusExecFormatError   Status = 14
)

// InFlight reports whether the unit has not finished yet.
func (s Status) InFlight() bool {
	return s == StatusQueued || s == StatusProcessing || s <= 0
}

// IsRuntimeError reports whether s is one of the runtime error ids.
func (s Status) IsRuntimeError() bool {
	return s >= StatusRuntimeSIGSEGV && s <= StatusRuntimeOther
}

// Unit is one program run against one stdin.
type Unit struct {
	Language       language.Lang
	Program        string
	Stdin          string
	ExpectedOutput string
	// CPUTimeLimit in seconds; zero uses the client default.
	CPUTimeLimit float64
	// MemoryLimitKB; zero uses the client default.
	MemoryLimitKB int
}

// RawResult is the executor's current view of a unit. Text fields are decoded.
type RawResult struct {
	Token         string
	Status        Status
	Description   string
	Stdout        string
	Stderr        string
	CompileOutput string
	Time          string
	Memory        int
}

// Executor submits batches and polls them by token. Both calls preserve input order.
type Executor interface {
	SubmitBatch(ctx context.Context, units []Unit) ([]string, error)
	PollBatch(ctx context.Context, tokens []string) ([]RawResult, error)
}
