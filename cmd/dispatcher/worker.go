package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/notification-dispatch/internal/handler"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/queue"
	"github.com/kursadbilgin/notification-dispatch/internal/service"
)

func workerCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume retry and dead-letter queues and run housekeeping",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Name())
			if err != nil {
				return err
			}
			defer a.close()

			metrics := observability.NewMetrics()
			p, err := a.buildPipeline(metrics)
			if err != nil {
				return err
			}

			sink, err := a.deadLetterSink()
			if err != nil {
				return err
			}

			processor, err := service.NewQueueProcessor(p.attempts, p.configCache, p.deliverer, a.logger)
			if err != nil {
				return err
			}
			deadLetters, err := service.NewDeadLetterProcessor(p.attempts, sink, a.logger)
			if err != nil {
				return err
			}

			consumer := queue.NewRabbitMQConsumer(p.broker, a.cfg.WorkerConcurrency, a.logger)
			runner, err := service.NewWorkerRunner(consumer, processor, deadLetters, a.cfg.WorkerConcurrency, a.logger)
			if err != nil {
				return err
			}

			sweeper, err := service.NewStaleRetrySweeper(p.attempts, p.publisher, 0, a.cfg.StaleRetryAfter, 0, a.logger)
			if err != nil {
				return err
			}
			housekeeper, err := service.NewHousekeeper(p.idempotency, a.cfg.HousekeepingCron, a.logger)
			if err != nil {
				return err
			}

			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			server := newServer(a.logger, metrics)
			handler.RegisterHealthRoutes(server, sqlDB, a.rdb, p.broker)

			a.logger.Info("notification-dispatch worker started",
				zap.Int("concurrency", a.cfg.WorkerConcurrency),
				zap.String("metricsAddr", metricsAddr),
			)

			g, gctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return runner.Start(gctx) })
			g.Go(func() error { return sweeper.Start(gctx) })
			g.Go(func() error { return housekeeper.Start(gctx) })
			g.Go(func() error { return listen(gctx, server, metricsAddr, a.logger) })

			return ignoreCanceled(g.Wait())
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address for health and metrics endpoints")
	return cmd
}
