package executor

import "strings"

// CaseStatus is the three-way outcome of a unit as seen by scoring.
type CaseStatus string

const (
	CasePending CaseStatus = "pending"
	CasePassed  CaseStatus = "passed"
	CaseFailed  CaseStatus = "failed"
)

const (
	DescriptionProcessing        = "Processing"
	DescriptionAccepted          = "Accepted"
	DescriptionWrongAnswer       = "Wrong Answer"
	DescriptionTimeLimitExceeded = "Time Limit Exceeded"
	DescriptionMemoryLimit       = "Memory Limit Exceeded"
	DescriptionCompilationError  = "Compilation Error"
	DescriptionRuntimeError      = "Runtime Error"

	timeLimitOutput   = "Your code took too long to execute. Please optimize your solution."
	memoryLimitOutput = "Your code used too much memory. Please optimize your solution."
	compileFallback   = "Compilation failed"
	runtimeFallback   = "Runtime error occurred"
)

// CaseResult is a mapped unit outcome ready for display.
type CaseResult struct {
	Status      CaseStatus
	StatusID    Status
	Description string
	Output      string
	Time        string
	Memory      int
}

// MapResult converts a raw executor result into a scoring outcome.
func MapResult(r RawResult) CaseResult {
	out := CaseResult{
		Status:      CasePending,
		StatusID:    r.Status,
		Description: r.Description,
		Time:        r.Time,
		Memory:      r.Memory,
	}
	if out.Description == "" {
		out.Description = "Unknown"
	}

	switch {
	case r.Status.InFlight():
		out.Description = DescriptionProcessing
	case r.Status == StatusAccepted:
		out.Status = CasePassed
		out.Description = DescriptionAccepted
		out.Output = r.Stdout
	case r.Status == StatusWrongAnswer:
		out.Status = CaseFailed
		out.Description = DescriptionWrongAnswer
		out.Output = r.Stdout
	case r.Status == StatusTimeLimitExceeded:
		out.Status = CaseFailed
		out.Description = DescriptionTimeLimitExceeded
		out.Output = timeLimitOutput
	case r.Status == StatusCompilationError:
		out.Status = CaseFailed
		out.Description = DescriptionCompilationError
		out.Output = orDefault(r.CompileOutput, compileFallback)
	case r.Status.IsRuntimeError() && isMemoryExhaustion(r):
		out.Status = CaseFailed
		out.Description = DescriptionMemoryLimit
		out.Output = memoryLimitOutput
	case r.Status.IsRuntimeError():
		out.Status = CaseFailed
		out.Description = DescriptionRuntimeError
		out.Output = orDefault(r.Stderr, runtimeFallback)
	default:
		out.Status = CaseFailed
		out.Output = orDefault(r.Stderr, out.Description)
	}
	return out
}

// memoryMarkers are runtime messages that indicate the memory limit was hit.
var memoryMarkers = []string{"memory limit", "out of memory", "outofmemoryerror", "memoryerror", "bad_alloc"}

func isMemoryExhaustion(r RawResult) bool {
	haystack := strings.ToLower(r.Description + "\n" + r.Stderr)
	for _, marker := range memoryMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
