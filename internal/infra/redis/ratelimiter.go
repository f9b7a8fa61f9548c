package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultSendsPerSec = 100
	sendWindow         = time.Second
	minWaitStep        = 5 * time.Millisecond
)

// admitScript counts one send in the current window and returns the budget
// left, or -1 once the window is full.
var admitScript = goredis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local left = tonumber(ARGV[1]) - used
if left < 0 then
  return -1
end
return left
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps provider sends per channel in one-second windows
// shared by every API and worker replica.
type RedisRateLimiter struct {
	client        *goredis.Client
	keyPrefix     string
	defaultLimit  int64
	channelLimits map[string]int64
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewRedisRateLimiter applies defaultPerSec to every channel not named in
// channelPerSec. Non-positive values fall back to the default budget.
func NewRedisRateLimiter(client *goredis.Client, keyPrefix string, defaultPerSec int, channelPerSec map[string]int) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if defaultPerSec <= 0 {
		defaultPerSec = defaultSendsPerSec
	}

	limits := make(map[string]int64, len(channelPerSec))
	for channel, limit := range channelPerSec {
		name := normalizeChannel(channel)
		if name == "" || limit <= 0 {
			continue
		}
		limits[name] = int64(limit)
	}

	return &RedisRateLimiter{
		client:        client,
		keyPrefix:     keyPrefix,
		defaultLimit:  int64(defaultPerSec),
		channelLimits: limits,
		now:           time.Now,
		sleep:         sleepWithContext,
	}, nil
}

// LimitFor returns the per-second budget applied to channel.
func (r *RedisRateLimiter) LimitFor(channel string) int64 {
	if limit, ok := r.channelLimits[normalizeChannel(channel)]; ok {
		return limit
	}
	return r.defaultLimit
}

// Allow takes one send from the channel budget of the current window.
func (r *RedisRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	name := normalizeChannel(channel)
	if name == "" {
		return false, fmt.Errorf("channel is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	left, err := admitScript.Run(ctx, r.client,
		[]string{r.windowKey(name)},
		r.LimitFor(name),
		sendWindow.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate %s send budget: %w", name, err)
	}
	return left >= 0, nil
}

// Wait blocks until the channel budget admits one send, sleeping to the start
// of the next window whenever the current one is spent.
func (r *RedisRateLimiter) Wait(ctx context.Context, channel string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		allowed, err := r.Allow(ctx, channel)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if err := r.sleep(ctx, r.untilNextWindow()); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) windowKey(channel string) string {
	return fmt.Sprintf("%sratelimit:%s:%d", r.keyPrefix, channel, r.now().UTC().Unix())
}

func (r *RedisRateLimiter) untilNextWindow() time.Duration {
	elapsed := time.Duration(r.now().UnixNano() % int64(sendWindow))
	return max(sendWindow-elapsed, minWaitStep)
}

func normalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
