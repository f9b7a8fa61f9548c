package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/queue"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval   = time.Minute
	defaultSweepLimit      = 100
	defaultStaleRetryAfter = 5 * time.Minute
)

// StaleRetrySweeper re-enqueues attempts stuck in retry whose message never
// arrived, e.g. after a crash between the state change and the publish.
// Duplicates are harmless because the retry consumer claims by retry count.
type StaleRetrySweeper struct {
	attempts   repository.AttemptRepository
	publisher  queue.Publisher
	logger     *zap.Logger
	interval   time.Duration
	staleAfter time.Duration
	limit      int
	now        func() time.Time
}

func NewStaleRetrySweeper(
	attempts repository.AttemptRepository,
	publisher queue.Publisher,
	interval time.Duration,
	staleAfter time.Duration,
	limit int,
	logger *zap.Logger,
) (*StaleRetrySweeper, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleRetryAfter
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StaleRetrySweeper{
		attempts:   attempts,
		publisher:  publisher,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		limit:      limit,
		now:        time.Now,
	}, nil
}

func (s *StaleRetrySweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("stale retry sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("stale retry sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep returns how many attempts were re-enqueued.
func (s *StaleRetrySweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	stale, err := s.attempts.GetStaleRetries(ctx, now.Add(-s.staleAfter), s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch stale retries: %w", err)
	}

	requeued := 0
	for i := range stale {
		attempt := stale[i]
		msg := queue.RetryMessage{
			AttemptID:   attempt.ID,
			RetryCount:  attempt.RetryCount,
			ScheduledAt: now,
			ProcessAt:   now,
		}

		if err := s.publisher.PublishRetry(ctx, msg, 0); err != nil {
			s.logger.Error("failed to re-enqueue stale retry",
				zap.String("messageId", attempt.ID),
				zap.Int("retryCount", attempt.RetryCount),
				zap.Error(err),
			)
			continue
		}

		if _, err := s.attempts.DeferRetry(ctx, attempt.ID, attempt.RetryCount, now); err != nil {
			s.logger.Error("failed to defer stale retry after enqueue",
				zap.String("messageId", attempt.ID),
				zap.Error(err),
			)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		s.logger.Info("stale retries re-enqueued", zap.Int("count", requeued))
	}
	return requeued, nil
}
