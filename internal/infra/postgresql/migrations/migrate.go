package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createNotificationAttemptsTable(),
		createChannelConfigsTable(),
		createTemplatesTables(),
		createIdempotencyRecordsTable(),
		createSystemSettingsTable(),
	})

	return m.Migrate()
}

// Rollback undoes the most recent migration.
func Rollback(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createNotificationAttemptsTable(),
		createChannelConfigsTable(),
		createTemplatesTables(),
		createIdempotencyRecordsTable(),
		createSystemSettingsTable(),
	})

	return m.RollbackLast()
}

func execAll(tx *gorm.DB, statements ...string) error {
	for _, sql := range statements {
		if err := tx.Exec(sql).Error; err != nil {
			return err
		}
	}
	return nil
}
