package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createChannelConfigsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_channel_configs",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ChannelConfigModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ChannelConfigModel{})
		},
	}
}
