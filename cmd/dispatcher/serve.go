package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/notification-dispatch/internal/handler"
	"github.com/kursadbilgin/notification-dispatch/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Name())
			if err != nil {
				return err
			}
			defer a.close()

			if !skipMigrate {
				if err := migrations.Migrate(a.db); err != nil {
					return fmt.Errorf("database migrations failed: %w", err)
				}
			}

			metrics := observability.NewMetrics()
			p, err := a.buildPipeline(metrics)
			if err != nil {
				return err
			}

			sqlDB, err := a.db.DB()
			if err != nil {
				return fmt.Errorf("postgres underlying db init failed: %w", err)
			}

			server := newServer(a.logger, metrics)
			handler.RegisterHealthRoutes(server, sqlDB, a.rdb, p.broker)
			if err := handler.RegisterNotificationRoutes(server, p.dispatcher); err != nil {
				return err
			}
			if err := handler.RegisterAdminRoutes(server, p.admin); err != nil {
				return err
			}

			addr := fmt.Sprintf(":%d", a.cfg.APIPort)
			a.logger.Info("notification-dispatch api started", zap.String("addr", addr))
			return listen(cmd.Context(), server, addr, a.logger)
		},
	}

	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply database migrations on start")
	return cmd
}

func newServer(logger *zap.Logger, metrics *observability.Metrics) *fiber.App {
	server := fiber.New(fiber.Config{
		AppName:               "notification-dispatch",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})

	server.Use(recover.New())
	server.Use(requestid.New())
	server.Use(metrics.HTTPMiddleware())
	server.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	return server
}

// listen serves until ctx is cancelled, then drains in-flight requests.
func listen(ctx context.Context, server *fiber.App, addr string, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return server.ShutdownWithTimeout(shutdownTimeout)
	})

	return ignoreCanceled(g.Wait())
}
