package ratelimit

import "context"

// RateLimiter throttles outbound sends. The key is the channel name, so every
// destination of one channel shares a budget.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}

// Unlimited admits every send.
type Unlimited struct{}

var _ RateLimiter = Unlimited{}

func (Unlimited) Allow(ctx context.Context, channel string) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, channel string) error { return ctx.Err() }
