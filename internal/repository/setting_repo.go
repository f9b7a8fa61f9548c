package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingRepository interface {
	Get(ctx context.Context, key string) (*domain.SystemSetting, error)
	Upsert(ctx context.Context, key, value string) error
}

type GormSettingRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormSettingRepo(db *gorm.DB) *GormSettingRepo {
	return &GormSettingRepo{db: db, now: time.Now}
}

func (r *GormSettingRepo) Get(ctx context.Context, key string) (*domain.SystemSetting, error) {
	var model SystemSettingModel
	err := r.db.WithContext(ctx).First(&model, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.SystemSetting{Key: model.Key, Value: model.Value, UpdatedAt: model.UpdatedAt}, nil
}

func (r *GormSettingRepo) Upsert(ctx context.Context, key, value string) error {
	model := SystemSettingModel{Key: key, Value: value, UpdatedAt: r.now().UTC()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&model).Error
}
