package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/queue"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// QueueProcessor resends attempts from the retry queue. Deliveries are
// at-least-once, so every message is checked against the row before sending.
type QueueProcessor struct {
	attempts  repository.AttemptRepository
	configs   ConfigProvider
	deliverer *Deliverer
	logger    *zap.Logger
}

func NewQueueProcessor(
	attempts repository.AttemptRepository,
	configs ConfigProvider,
	deliverer *Deliverer,
	logger *zap.Logger,
) (*QueueProcessor, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if configs == nil {
		return nil, fmt.Errorf("config provider is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QueueProcessor{
		attempts:  attempts,
		configs:   configs,
		deliverer: deliverer,
		logger:    logger,
	}, nil
}

// ProcessRetry returns an error only for infrastructure failures, which
// requeue the message. Stale, duplicate and orphaned messages are acked.
func (p *QueueProcessor) ProcessRetry(ctx context.Context, msg queue.RetryMessage) error {
	ctx, span := observability.Tracer().Start(ctx, "queue.ProcessRetry")
	defer span.End()
	span.SetAttributes(
		attribute.String("attempt.id", msg.AttemptID),
		attribute.Int("attempt.retry_count", msg.RetryCount),
	)

	logger := p.logger.With(zap.String("messageId", msg.AttemptID), zap.Int("retryCount", msg.RetryCount))

	attempt, err := p.attempts.GetByID(ctx, msg.AttemptID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("attempt not found for retry, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load attempt: %w", err)
	}

	if attempt.Status.IsTerminal() {
		logger.Debug("attempt already terminal, skipping", zap.String("status", attempt.Status.String()))
		return nil
	}
	if attempt.Status != domain.AttemptStatusRetry || attempt.RetryCount != msg.RetryCount {
		logger.Info("stale retry message, skipping",
			zap.String("status", attempt.Status.String()),
			zap.Int("attemptRetryCount", attempt.RetryCount),
		)
		return nil
	}

	cfg, err := p.configs.GetChannelConfig(ctx, attempt.UserID, attempt.Channel)
	if err != nil {
		return fmt.Errorf("failed to load channel config: %w", err)
	}
	if cfg == nil {
		if _, err := p.attempts.MarkFailed(ctx, attempt.ID, "channel config no longer active"); err != nil {
			return fmt.Errorf("failed to mark orphaned attempt as failed: %w", err)
		}
		logger.Info("channel config gone, retry dropped", zap.String("channel", attempt.Channel.String()))
		return nil
	}

	claimed, err := p.attempts.ClaimForResend(ctx, attempt.ID, msg.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to claim attempt: %w", err)
	}
	if !claimed {
		logger.Debug("retry already claimed by another consumer")
		return nil
	}
	attempt.Status = domain.AttemptStatusPending

	result := p.deliverer.Deliver(ctx, *attempt, *cfg)
	span.SetAttributes(attribute.String("attempt.result", result.Status.String()))
	logger.Info("retry processed",
		zap.String("channel", attempt.Channel.String()),
		zap.String("result", result.Status.String()),
	)
	return nil
}

// DeadLetterProcessor settles messages that reached the dead-letter queue.
type DeadLetterProcessor struct {
	attempts repository.AttemptRepository
	sink     queue.DeadLetterSink
	logger   *zap.Logger
}

// NewDeadLetterProcessor accepts a nil sink when no dead-letter stream is configured.
func NewDeadLetterProcessor(
	attempts repository.AttemptRepository,
	sink queue.DeadLetterSink,
	logger *zap.Logger,
) (*DeadLetterProcessor, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeadLetterProcessor{
		attempts: attempts,
		sink:     sink,
		logger:   logger,
	}, nil
}

func (p *DeadLetterProcessor) Process(ctx context.Context, msg queue.DeadLetterMessage) error {
	reason := msg.Error
	if reason == "" {
		reason = "retry message dead-lettered by the broker"
	}

	updated, err := p.attempts.MarkFailed(ctx, msg.AttemptID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark dead-lettered attempt as failed: %w", err)
	}

	p.logger.Warn("notification dead-lettered",
		zap.String("messageId", msg.AttemptID),
		zap.String("userId", msg.UserID),
		zap.String("channel", msg.Channel.String()),
		zap.Int("retryCount", msg.RetryCount),
		zap.String("error", reason),
		zap.Bool("statusChanged", updated),
	)

	if p.sink != nil {
		if err := p.sink.Publish(ctx, msg); err != nil {
			p.logger.Error("failed to mirror dead letter",
				zap.String("messageId", msg.AttemptID),
				zap.Error(err),
			)
		}
	}
	return nil
}
