package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "codearena/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{ProblemNotFound, "Problem not found"},
		{InvalidParams, "Invalid parameters"},
		{Disqualified, "You have been disqualified from this contest"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{LanguageNotSupported, 400},
		{InvalidContestID, 400},
		{ValidationFailed, 400},
		{Unauthorized, 401},
		{Forbidden, 403},
		{Disqualified, 403},
		{ContestEnded, 403},
		{ProblemNotFound, 404},
		{SubmissionNotFound, 404},
		{SubmitTooFrequently, 429},
		{ExecutorUnavailable, 502},
		{InvariantViolation, 500},
		{TemplateMarkerNotFound, 500},
		{InternalServerError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(SubmissionNotFound, "submission %s not found", "abc")

	want := "submission abc not found"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
	if err.Code != SubmissionNotFound {
		t.Errorf("Code = %v, want %v", err.Code, SubmissionNotFound)
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrap(originalErr, ExecutorUnavailable)

	if wrappedErr.Code != ExecutorUnavailable {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, ExecutorUnavailable)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
	if Wrap(nil, DatabaseError) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrap_DoesNotMutateOriginal(t *testing.T) {
	original := New(DatabaseError)
	recoded := Wrap(original, InvariantViolation)

	if original.Code != DatabaseError {
		t.Fatalf("original code changed to %v", original.Code)
	}
	if recoded.Code != InvariantViolation {
		t.Fatalf("recoded code = %v", recoded.Code)
	}
}

func TestGetCode_ThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("poll failed: %w", New(ExecutorUnavailable))

	if got := GetCode(err); got != ExecutorUnavailable {
		t.Fatalf("GetCode() = %v, want %v", got, ExecutorUnavailable)
	}
	if !Is(err, ExecutorUnavailable) {
		t.Fatal("Is() should see through fmt wrapping")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil error", err: nil, want: Success},
		{name: "custom error", err: New(ContestEnded), want: ContestEnded},
		{name: "standard error", err: errors.New("standard error"), want: InternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(Disqualified)

	if !Is(err, Disqualified) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, DatabaseError) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, Disqualified) {
		t.Error("Is() should return false for nil error")
	}
}

func TestCommonErrorConstructors(t *testing.T) {
	t.Run("BadRequest", func(t *testing.T) {
		if err := BadRequest("invalid input"); err.Code != InvalidParams {
			t.Error("BadRequest should use InvalidParams code")
		}
	})

	t.Run("UnauthorizedError", func(t *testing.T) {
		if err := UnauthorizedError(""); err.Code != Unauthorized {
			t.Error("UnauthorizedError should use Unauthorized code")
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError("language", "unsupported")
		if err.Code != ValidationFailed {
			t.Error("ValidationError should use ValidationFailed code")
		}
		if err.Details["field"] != "language" {
			t.Error("Field detail not set")
		}
		if err.Error() != "language: unsupported" {
			t.Errorf("Error() = %q", err.Error())
		}
	})

	t.Run("Invariant", func(t *testing.T) {
		err := Invariant("token count %d != %d", 2, 3)
		if err.Code != InvariantViolation {
			t.Error("Invariant should use InvariantViolation code")
		}
		if err.Code.HTTPStatus() != 500 {
			t.Error("Invariant should map to 500")
		}
	})
}
