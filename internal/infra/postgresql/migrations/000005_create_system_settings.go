package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createSystemSettingsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_system_settings",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SystemSettingModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`INSERT INTO system_settings (key, value, updated_at) VALUES ('retry.max_count', '3', NOW()) ON CONFLICT (key) DO NOTHING`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SystemSettingModel{})
		},
	}
}
