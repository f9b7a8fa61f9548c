package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})
	return mr, rdb
}

func newTestLimiter(t *testing.T, rdb *goredis.Client, defaultPerSec int, channelPerSec map[string]int, now *time.Time) *RedisRateLimiter {
	t.Helper()

	limiter, err := NewRedisRateLimiter(rdb, "test:", defaultPerSec, channelPerSec)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	limiter.now = func() time.Time { return *now }
	return limiter
}

func mustAllow(t *testing.T, limiter *RedisRateLimiter, channel string) bool {
	t.Helper()

	allowed, err := limiter.Allow(context.Background(), channel)
	if err != nil {
		t.Fatalf("Allow(%s) error = %v", channel, err)
	}
	return allowed
}

func TestRedisRateLimiterWindowBudget(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	now := time.Unix(1_700_000_000, 0)
	limiter := newTestLimiter(t, rdb, 2, nil, &now)

	if !mustAllow(t, limiter, "telegram") || !mustAllow(t, limiter, "telegram") {
		t.Fatal("the first two sends of the window should be admitted")
	}
	if mustAllow(t, limiter, "telegram") {
		t.Fatal("the third send should exceed the budget")
	}
	if !mr.Exists("test:ratelimit:telegram:1700000000") {
		t.Fatalf("window key missing, keys = %v", mr.Keys())
	}

	now = now.Add(time.Second)
	if !mustAllow(t, limiter, "telegram") {
		t.Fatal("a new window should admit sends again")
	}
}

func TestRedisRateLimiterBudgetsAreIndependentPerChannel(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	now := time.Unix(1_700_000_100, 0)
	limiter := newTestLimiter(t, rdb, 1, map[string]int{" Lark ": 3, "slack": 0}, &now)

	if got := limiter.LimitFor("LARK"); got != 3 {
		t.Fatalf("LimitFor(lark) = %d, want 3", got)
	}
	if got := limiter.LimitFor("slack"); got != 1 {
		t.Fatalf("LimitFor(slack) = %d, want the default for a non-positive override", got)
	}

	if !mustAllow(t, limiter, "webhook") {
		t.Fatal("webhook first send should be admitted")
	}
	if !mustAllow(t, limiter, "slack") {
		t.Fatal("slack must not share the webhook budget")
	}
	if mustAllow(t, limiter, "webhook") {
		t.Fatal("webhook second send should be rejected")
	}
	for i := 0; i < 3; i++ {
		if !mustAllow(t, limiter, "lark") {
			t.Fatalf("lark send %d should be admitted by its override", i+1)
		}
	}
	if mustAllow(t, limiter, "lark") {
		t.Fatal("lark fourth send should be rejected")
	}

	if _, err := limiter.Allow(context.Background(), " "); err == nil {
		t.Fatal("expected error for an empty channel")
	}
}

func TestRedisRateLimiterWaitSleepsToNextWindow(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	now := time.Unix(1_700_000_200, 0).Add(400 * time.Millisecond)
	limiter := newTestLimiter(t, rdb, 1, nil, &now)

	var slept []time.Duration
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}

	if !mustAllow(t, limiter, "webhook") {
		t.Fatal("first send should be admitted")
	}
	if err := limiter.Wait(context.Background(), "webhook"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(slept) != 1 || slept[0] != 600*time.Millisecond {
		t.Fatalf("slept = %v, want a single 600ms wait to the window boundary", slept)
	}
}

func TestRedisRateLimiterWaitHonoursDeadline(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	now := time.Unix(1_700_000_300, 0)
	limiter := newTestLimiter(t, rdb, 1, nil, &now)

	if !mustAllow(t, limiter, "telegram") {
		t.Fatal("first send should be admitted")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "telegram"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestNewRedisRateLimiterDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisRateLimiter(nil, "", 1, nil); err == nil {
		t.Fatal("expected error when redis client is nil")
	}

	_, rdb := newTestRedis(t)
	limiter, err := NewRedisRateLimiter(rdb, "", 0, nil)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	if got := limiter.LimitFor("webhook"); got != defaultSendsPerSec {
		t.Fatalf("LimitFor() = %d, want %d", got, defaultSendsPerSec)
	}
}
