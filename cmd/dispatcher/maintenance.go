package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kursadbilgin/notification-dispatch/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"github.com/kursadbilgin/notification-dispatch/internal/service"
)

func migrateCmd() *cobra.Command {
	var rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Name())
			if err != nil {
				return err
			}
			defer a.close()

			if rollback {
				if err := migrations.Rollback(a.db); err != nil {
					return fmt.Errorf("migration rollback failed: %w", err)
				}
				a.logger.Info("last migration rolled back")
				return nil
			}

			if err := migrations.Migrate(a.db); err != nil {
				return fmt.Errorf("database migrations failed: %w", err)
			}
			a.logger.Info("migrations completed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&rollback, "rollback", false, "undo the most recent migration")
	return cmd
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired idempotency records once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Name())
			if err != nil {
				return err
			}
			defer a.close()

			idempotency, err := service.NewIdempotencyManager(
				repository.NewGormIdempotencyRepo(a.db),
				repository.NewGormAttemptRepo(a.db),
				a.cfg.IdempotencyTTL,
				a.logger,
			)
			if err != nil {
				return err
			}

			housekeeper, err := service.NewHousekeeper(idempotency, a.cfg.HousekeepingCron, a.logger)
			if err != nil {
				return err
			}
			return housekeeper.RunOnce(cmd.Context())
		},
	}
}
