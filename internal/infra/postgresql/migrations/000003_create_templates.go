package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createTemplatesTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_templates",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.TemplateModel{}, &repository.TemplateContentModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TemplateContentModel{}, &repository.TemplateModel{})
		},
	}
}
