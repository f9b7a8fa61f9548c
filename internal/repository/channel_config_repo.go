package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChannelConfigRepository interface {
	GetActive(ctx context.Context, userID string, channel domain.Channel) (*domain.ChannelConfig, error)
	Upsert(ctx context.Context, cfg *domain.ChannelConfig) error
}

type GormChannelConfigRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormChannelConfigRepo(db *gorm.DB) *GormChannelConfigRepo {
	return &GormChannelConfigRepo{db: db, now: time.Now}
}

// GetActive returns domain.ErrNotFound when the user has no active config for channel.
func (r *GormChannelConfigRepo) GetActive(ctx context.Context, userID string, channel domain.Channel) (*domain.ChannelConfig, error) {
	var model ChannelConfigModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND channel_type = ? AND is_active = ?", userID, channel, true).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg, err := channelConfigModelToDomain(&model)
	if err != nil {
		return nil, fmt.Errorf("decode channel config %s: %w", model.ID, err)
	}
	return cfg, nil
}

// Upsert inserts or replaces the (user, channel) config.
func (r *GormChannelConfigRepo) Upsert(ctx context.Context, cfg *domain.ChannelConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: channel config is required", domain.ErrValidation)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	model, err := channelConfigModelFromDomain(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "channel_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"config", "is_active", "updated_at"}),
		}).
		Create(model).Error
}
