package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/queue"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"go.uber.org/zap"
)

// MaxRetryCountSetting overrides RetryPolicy.MaxRetries at runtime.
const MaxRetryCountSetting = "retry.max_count"

// RetryPolicy is an ordered backoff list indexed by the current retry count.
// When MaxRetries exceeds the list the last delay repeats.
type RetryPolicy struct {
	Delays     []time.Duration
	MaxRetries int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Delays:     []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second},
		MaxRetries: 3,
	}
}

func (p RetryPolicy) DelayFor(retryCount int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[retryCount]
}

// SettingProvider reads flat system settings; ok is false when unset.
type SettingProvider interface {
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
}

// RetryPlanner decides what happens to an attempt after a retryable failure.
type RetryPlanner interface {
	ScheduleRetry(ctx context.Context, attempt domain.NotificationAttempt, errMsg string) (bool, error)
}

// RetryScheduler moves failed attempts through pending -> retry -> ... -> failed
// and enqueues the delayed resend. It never sends anything itself.
type RetryScheduler struct {
	attempts  repository.AttemptRepository
	publisher queue.Publisher
	settings  SettingProvider
	policy    RetryPolicy
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

var _ RetryPlanner = (*RetryScheduler)(nil)

func NewRetryScheduler(
	attempts repository.AttemptRepository,
	publisher queue.Publisher,
	settings SettingProvider,
	policy RetryPolicy,
	logger *zap.Logger,
) (*RetryScheduler, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if len(policy.Delays) == 0 {
		policy.Delays = DefaultRetryPolicy().Delays
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScheduler{
		attempts:  attempts,
		publisher: publisher,
		settings:  settings,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *RetryScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// MaxRetries returns the effective retry ceiling, preferring the runtime setting.
func (s *RetryScheduler) MaxRetries(ctx context.Context) int {
	if s.settings == nil {
		return s.policy.MaxRetries
	}

	raw, ok, err := s.settings.GetSetting(ctx, MaxRetryCountSetting)
	if err != nil {
		s.logger.Warn("failed to read retry setting, using default",
			zap.String("key", MaxRetryCountSetting),
			zap.Error(err),
		)
		return s.policy.MaxRetries
	}
	if !ok {
		return s.policy.MaxRetries
	}

	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		s.logger.Warn("invalid retry setting, using default",
			zap.String("key", MaxRetryCountSetting),
			zap.String("value", raw),
		)
		return s.policy.MaxRetries
	}
	return value
}

// ScheduleRetry reports true when a delayed resend was enqueued. At the retry
// ceiling, or when the retry cannot be persisted or enqueued, the attempt is
// marked failed and dead-lettered instead and false is returned. ErrConflict
// means another worker moved the row first; it is left as that worker set it.
func (s *RetryScheduler) ScheduleRetry(ctx context.Context, attempt domain.NotificationAttempt, errMsg string) (bool, error) {
	logger := observability.AttemptLogger(s.logger, ctx, attempt.ID, attempt.UserID, attempt.Channel.String())
	current := attempt.RetryCount

	if current >= s.MaxRetries(ctx) {
		reason := fmt.Sprintf("retries exhausted after %d retries: %s", current, errMsg)
		s.fail(ctx, logger, attempt, reason)
		s.metrics.IncNotificationFailed(attempt.Channel.String(), "retry_exhausted")
		return false, nil
	}

	delay := s.policy.DelayFor(current)
	scheduledAt := s.now().UTC()
	processAt := scheduledAt.Add(delay)

	updated, err := s.attempts.MarkRetry(ctx, attempt.ID, current, processAt, errMsg)
	if err != nil {
		logger.Error("failed to mark attempt for retry", zap.Int("retryCount", current), zap.Error(err))
		s.fail(ctx, logger, attempt, fmt.Sprintf("failed to mark attempt for retry: %v", err))
		s.metrics.IncNotificationFailed(attempt.Channel.String(), "mark_retry_failed")
		return false, nil
	}
	if !updated {
		return false, fmt.Errorf("%w: attempt %s changed before retry %d could be scheduled", domain.ErrConflict, attempt.ID, current+1)
	}

	msg := queue.RetryMessage{
		AttemptID:   attempt.ID,
		RetryCount:  current + 1,
		ScheduledAt: scheduledAt,
		ProcessAt:   processAt,
	}
	if err := s.publisher.PublishRetry(ctx, msg, delay); err != nil {
		logger.Error("failed to enqueue retry", zap.Int("retryCount", msg.RetryCount), zap.Error(err))
		attempt.RetryCount = msg.RetryCount
		s.fail(ctx, logger, attempt, fmt.Sprintf("failed to enqueue retry: %v", err))
		s.metrics.IncNotificationFailed(attempt.Channel.String(), "enqueue_failed")
		return false, nil
	}

	s.metrics.IncRetryScheduled(attempt.Channel.String())
	logger.Info("retry scheduled",
		zap.Int("retryCount", msg.RetryCount),
		zap.Duration("delay", delay),
	)
	return true, nil
}

// fail is best effort: the row update and the dead-letter copy are logged on error.
func (s *RetryScheduler) fail(ctx context.Context, logger *zap.Logger, attempt domain.NotificationAttempt, reason string) {
	if _, err := s.attempts.MarkFailed(ctx, attempt.ID, reason); err != nil {
		logger.Error("failed to mark attempt as failed", zap.Error(err))
	}

	dead := queue.DeadLetterMessage{
		AttemptID:  attempt.ID,
		UserID:     attempt.UserID,
		Channel:    attempt.Channel,
		RetryCount: attempt.RetryCount,
		Error:      reason,
		FailedAt:   s.now().UTC(),
	}
	if err := s.publisher.PublishDeadLetter(ctx, dead); err != nil {
		logger.Error("failed to publish dead letter", zap.Error(err))
		return
	}
	s.metrics.IncDeadLetter(attempt.Channel.String())
}
