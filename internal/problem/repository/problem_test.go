package repository

import (
	"strings"
	"testing"
)

type rowValues []interface{}

func (r rowValues) Scan(dest ...interface{}) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r[i].(int64)
		case *int:
			*p = r[i].(int)
		case *string:
			*p = r[i].(string)
		}
	}
	return nil
}

func TestScanProblemReadsExecutionLimits(t *testing.T) {
	if n := len(strings.Split(problemColumns, ",")); n != 7 {
		t.Fatalf("problemColumns has %d columns, want 7", n)
	}
	p, err := scanProblem(rowValues{int64(4), "sum", "Sum", 300, 3, 2500, 131072})
	if err != nil {
		t.Fatalf("scanProblem: %v", err)
	}
	if p.TimeLimitMS != 2500 || p.MemoryLimitKB != 131072 || p.TotalPoints != 300 {
		t.Fatalf("problem = %+v", p)
	}
}

func TestPointsPerTestCase(t *testing.T) {
	tests := []struct {
		name     string
		problem  Problem
		fallback int
		want     int
	}{
		{"even split", Problem{TotalPoints: 300, TestCaseCount: 3}, 0, 100},
		{"floors", Problem{TotalPoints: 100, TestCaseCount: 3}, 0, 33},
		{"rounds to zero", Problem{TotalPoints: 2, TestCaseCount: 3}, 0, 0},
		{"fallback count", Problem{TotalPoints: 100}, 4, 25},
		{"no cases", Problem{TotalPoints: 100}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.problem.PointsPerTestCase(tt.fallback); got != tt.want {
				t.Fatalf("PointsPerTestCase() = %d, want %d", got, tt.want)
			}
		})
	}
}
