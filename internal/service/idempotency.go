package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"go.uber.org/zap"
)

// DuplicateCheck is the outcome of looking up an idempotency key.
type DuplicateCheck struct {
	// Duplicate is set when a completed, unexpired record exists.
	Duplicate bool
	// InProgress is set when another request holds the key but has not finished.
	InProgress bool
	MessageIDs []string
	// Results reflect the live status of the recorded attempts.
	Results []domain.NotificationResult
}

const (
	completeAttempts = 3
	completeBackoff  = 50 * time.Millisecond
)

type IdempotencyManager struct {
	records  repository.IdempotencyRepository
	attempts repository.AttemptRepository
	ttl      time.Duration
	lease    time.Duration
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewIdempotencyManager(
	records repository.IdempotencyRepository,
	attempts repository.AttemptRepository,
	ttl time.Duration,
	logger *zap.Logger,
) (*IdempotencyManager, error) {
	if records == nil {
		return nil, fmt.Errorf("idempotency repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if ttl <= 0 {
		ttl = domain.DefaultIdempotencyTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	lease := min(domain.DefaultIdempotencyLease, ttl)

	return &IdempotencyManager{
		records:  records,
		attempts: attempts,
		ttl:      ttl,
		lease:    lease,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}, nil
}

func (m *IdempotencyManager) CheckDuplicate(ctx context.Context, key, userID string) (DuplicateCheck, error) {
	record, err := m.records.GetActive(ctx, key, userID, m.now().UTC())
	if errors.Is(err, domain.ErrNotFound) {
		return DuplicateCheck{}, nil
	}
	if err != nil {
		return DuplicateCheck{}, fmt.Errorf("failed to read idempotency record: %w", err)
	}
	if !record.IsCompleted() {
		return DuplicateCheck{InProgress: true}, nil
	}

	attempts, err := m.attempts.GetByIDs(ctx, record.MessageIDs)
	if err != nil {
		return DuplicateCheck{}, fmt.Errorf("failed to load recorded attempts: %w", err)
	}

	results := make([]domain.NotificationResult, 0, len(attempts))
	for i := range attempts {
		results = append(results, domain.ResultFromAttempt(attempts[i]))
	}

	return DuplicateCheck{
		Duplicate:  true,
		MessageIDs: record.MessageIDs,
		Results:    results,
	}, nil
}

// Reserve claims the key for this request; false means another live request
// owns it. The claim lapses after the lease unless Record completes it.
func (m *IdempotencyManager) Reserve(ctx context.Context, key, userID string) (bool, error) {
	now := m.now().UTC()
	acquired, err := m.records.Reserve(ctx, key, userID, now, now.Add(m.lease))
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return acquired, nil
}

// Record completes the reservation and keeps it replayable for the full TTL.
// Store errors are retried a few times; a lost reservation is not.
func (m *IdempotencyManager) Record(ctx context.Context, key, userID string, messageIDs []string) error {
	if messageIDs == nil {
		messageIDs = []string{}
	}

	var err error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		completedAt := m.now().UTC()
		err = m.records.Complete(ctx, key, userID, messageIDs, completedAt, completedAt.Add(m.ttl))
		if err == nil || errors.Is(err, domain.ErrNotFound) || attempt == completeAttempts {
			break
		}
		m.logger.Warn("idempotency record write failed, retrying",
			zap.String("userId", userID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if sleepErr := m.sleep(ctx, completeBackoff*time.Duration(attempt)); sleepErr != nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to record idempotency key: %w", err)
	}
	return nil
}

func (m *IdempotencyManager) Release(ctx context.Context, key, userID string) error {
	if err := m.records.Release(ctx, key, userID); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (m *IdempotencyManager) CleanupExpired(ctx context.Context) (int64, error) {
	deleted, err := m.records.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}
	if deleted > 0 {
		m.logger.Info("expired idempotency records deleted", zap.Int64("count", deleted))
	}
	return deleted, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
