package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

type IdempotencyRepository interface {
	GetActive(ctx context.Context, key, userID string, now time.Time) (*domain.IdempotencyRecord, error)
	Reserve(ctx context.Context, key, userID string, now, expiresAt time.Time) (bool, error)
	Complete(ctx context.Context, key, userID string, messageIDs []string, completedAt, expiresAt time.Time) error
	Release(ctx context.Context, key, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormIdempotencyRepo struct {
	db *gorm.DB
}

func NewGormIdempotencyRepo(db *gorm.DB) *GormIdempotencyRepo {
	return &GormIdempotencyRepo{db: db}
}

// GetActive returns the unexpired record for (key, user) or domain.ErrNotFound.
func (r *GormIdempotencyRepo) GetActive(ctx context.Context, key, userID string, now time.Time) (*domain.IdempotencyRecord, error) {
	var model IdempotencyRecordModel
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ? AND user_id = ? AND expires_at > ?", key, userID, now).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return idempotencyModelToDomain(&model), nil
}

const reserveIdempotencySQL = `
INSERT INTO idempotency_records (id, idempotency_key, user_id, message_ids, expires_at, created_at)
VALUES (?, ?, ?, '{}', ?, ?)
ON CONFLICT (idempotency_key, user_id) DO UPDATE SET
	id = EXCLUDED.id,
	message_ids = '{}',
	completed_at = NULL,
	expires_at = EXCLUDED.expires_at,
	created_at = EXCLUDED.created_at
WHERE idempotency_records.expires_at <= ?`

// Reserve claims (key, user) for one dispatch. An expired record is taken over;
// a live one makes Reserve report false.
func (r *GormIdempotencyRepo) Reserve(ctx context.Context, key, userID string, now, expiresAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Exec(reserveIdempotencySQL,
		uuid.NewString(), key, userID, expiresAt, now, now)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Complete stores the produced message ids and moves expires_at from the
// reservation lease to the full replay window.
func (r *GormIdempotencyRepo) Complete(ctx context.Context, key, userID string, messageIDs []string, completedAt, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&IdempotencyRecordModel{}).
		Where("idempotency_key = ? AND user_id = ? AND completed_at IS NULL", key, userID).
		Updates(map[string]any{
			"message_ids":  pq.StringArray(messageIDs),
			"completed_at": completedAt,
			"expires_at":   expiresAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Release drops an uncompleted reservation so the caller may retry the key.
func (r *GormIdempotencyRepo) Release(ctx context.Context, key, userID string) error {
	return r.db.WithContext(ctx).
		Where("idempotency_key = ? AND user_id = ? AND completed_at IS NULL", key, userID).
		Delete(&IdempotencyRecordModel{}).Error
}

func (r *GormIdempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&IdempotencyRecordModel{})
	return result.RowsAffected, result.Error
}
