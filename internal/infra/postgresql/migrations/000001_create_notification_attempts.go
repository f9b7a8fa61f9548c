package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createNotificationAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notification_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationAttemptModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`CREATE INDEX IF NOT EXISTS idx_attempts_retry_due ON notification_attempts (next_retry_at) WHERE status = 'retry'`,
				`ALTER TABLE notification_attempts ADD CONSTRAINT chk_attempts_status CHECK (status IN ('pending','sent','retry','failed'))`,
				`ALTER TABLE notification_attempts ADD CONSTRAINT chk_attempts_retry_count CHECK (retry_count >= 0)`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationAttemptModel{})
		},
	}
}
