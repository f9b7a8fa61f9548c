package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"gorm.io/gorm"
)

type TemplateRepository interface {
	GetActiveByKey(ctx context.Context, key string) (*domain.Template, error)
	Create(ctx context.Context, t *domain.Template) error
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

// GetActiveByKey loads an active template with all of its channel contents.
func (r *GormTemplateRepo) GetActiveByKey(ctx context.Context, key string) (*domain.Template, error) {
	var model TemplateModel
	err := r.db.WithContext(ctx).
		Preload("Contents").
		Where("key = ? AND is_active = ?", key, true).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return templateModelToDomain(&model), nil
}

// Create stores a template and its contents in one transaction.
func (r *GormTemplateRepo) Create(ctx context.Context, t *domain.Template) error {
	model := templateModelFromDomain(t)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
}
