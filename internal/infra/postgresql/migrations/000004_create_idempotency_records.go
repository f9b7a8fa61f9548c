package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createIdempotencyRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_idempotency_records",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.IdempotencyRecordModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.IdempotencyRecordModel{})
		},
	}
}
