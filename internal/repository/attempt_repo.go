package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.NotificationAttempt) error
	GetByID(ctx context.Context, id string) (*domain.NotificationAttempt, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.NotificationAttempt, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error)
	MarkRetry(ctx context.Context, id string, currentRetryCount int, nextRetryAt time.Time, errMsg string) (bool, error)
	ClaimForResend(ctx context.Context, id string, retryCount int) (bool, error)
	MarkFailed(ctx context.Context, id string, errMsg string) (bool, error)
	DeferRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) (bool, error)
	GetStaleRetries(ctx context.Context, dueBefore time.Time, limit int) ([]domain.NotificationAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.NotificationAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) GetByID(ctx context.Context, id string) (*domain.NotificationAttempt, error) {
	var model NotificationAttemptModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

// GetByIDs returns the attempts in the order of ids; unknown ids are skipped.
func (r *GormAttemptRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.NotificationAttempt, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var models []NotificationAttemptModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]*NotificationAttemptModel, len(models))
	for i := range models {
		byID[models[i].ID] = &models[i]
	}

	attempts := make([]domain.NotificationAttempt, 0, len(models))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			attempts = append(attempts, *attemptModelToDomain(m))
		}
	}
	return attempts, nil
}

// MarkSent moves a non-terminal attempt to sent. It reports false when the
// attempt was already terminal.
func (r *GormAttemptRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationAttemptModel{}).
		Where("id = ? AND status IN ?", id, nonTerminalStatuses()).
		Updates(map[string]any{
			"status":        domain.AttemptStatusSent,
			"sent_at":       sentAt,
			"error":         nil,
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkRetry moves an in-flight attempt to retry and bumps its retry count,
// but only while the row still carries currentRetryCount.
func (r *GormAttemptRepo) MarkRetry(ctx context.Context, id string, currentRetryCount int, nextRetryAt time.Time, errMsg string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationAttemptModel{}).
		Where("id = ? AND status = ? AND retry_count = ?", id, domain.AttemptStatusPending, currentRetryCount).
		Updates(map[string]any{
			"status":        domain.AttemptStatusRetry,
			"retry_count":   currentRetryCount + 1,
			"next_retry_at": nextRetryAt,
			"error":         errMsg,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClaimForResend flips retry back to pending for exactly one consumer.
// Redelivered or stale messages lose the race and get false.
func (r *GormAttemptRepo) ClaimForResend(ctx context.Context, id string, retryCount int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationAttemptModel{}).
		Where("id = ? AND status = ? AND retry_count = ?", id, domain.AttemptStatusRetry, retryCount).
		Update("status", domain.AttemptStatusPending)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormAttemptRepo) MarkFailed(ctx context.Context, id string, errMsg string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationAttemptModel{}).
		Where("id = ? AND status IN ?", id, nonTerminalStatuses()).
		Updates(map[string]any{
			"status":        domain.AttemptStatusFailed,
			"error":         errMsg,
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// DeferRetry pushes next_retry_at forward on a waiting retry so a re-enqueued
// attempt is not picked up again by the next stale sweep.
func (r *GormAttemptRepo) DeferRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationAttemptModel{}).
		Where("id = ? AND status = ? AND retry_count = ?", id, domain.AttemptStatusRetry, retryCount).
		Update("next_retry_at", nextRetryAt)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormAttemptRepo) GetStaleRetries(ctx context.Context, dueBefore time.Time, limit int) ([]domain.NotificationAttempt, error) {
	var models []NotificationAttemptModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", domain.AttemptStatusRetry, dueBefore).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.NotificationAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}
	return attempts, nil
}

func nonTerminalStatuses() []domain.AttemptStatus {
	return []domain.AttemptStatus{domain.AttemptStatusPending, domain.AttemptStatusRetry}
}
