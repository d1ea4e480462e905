package mq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"codearena/internal/common/mq"
)

func TestTokenLimiter(t *testing.T) {
	limiter := mq.NewTokenLimiter(2)
	ctx := context.Background()

	acquireAll := func() {
		t.Helper()
		for i := 0; i < 2; i++ {
			if err := limiter.Acquire(ctx); err != nil {
				t.Fatalf("acquire %d: %v", i, err)
			}
		}
		timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		if err := limiter.Acquire(timeoutCtx); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	}

	acquireAll()
	limiter.Release()
	limiter.Release()
	limiter.Release()
	// Over-release is ignored, so capacity stays at two.
	acquireAll()
}
