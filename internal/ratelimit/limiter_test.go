package ratelimit

import (
	"context"
	"errors"
	"testing"
)

func TestUnlimitedAdmitsEverySend(t *testing.T) {
	t.Parallel()

	var limiter RateLimiter = Unlimited{}
	for i := 0; i < 1000; i++ {
		allowed, err := limiter.Allow(context.Background(), "webhook")
		if err != nil || !allowed {
			t.Fatalf("Allow() = %v, %v, want true", allowed, err)
		}
	}

	if err := limiter.Wait(context.Background(), "slack"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Wait(ctx, "slack"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}
