package main

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kursadbilgin/notification-dispatch/internal/cache"
	"github.com/kursadbilgin/notification-dispatch/internal/config"
	"github.com/kursadbilgin/notification-dispatch/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/notification-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/provider"
	"github.com/kursadbilgin/notification-dispatch/internal/queue"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"github.com/kursadbilgin/notification-dispatch/internal/resilience/circuitbreaker"
	"github.com/kursadbilgin/notification-dispatch/internal/service"
	"github.com/kursadbilgin/notification-dispatch/internal/template"
)

const cacheKeyPrefix = "notify:"

// app holds the process-wide clients shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	rdb    *goredis.Client

	closers []func() error
}

// newApp loads config and opens postgres for the command named role.
func newApp(role string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel, role)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	a.db = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	return a, nil
}

func (a *app) connectRedis() error {
	rdb, err := infraredis.NewRedis(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	a.rdb = rdb
	a.closers = append(a.closers, rdb.Close)
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("shutdown close failed", zap.Error(err))
		}
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// pipeline is the dispatch and retry stack shared by the API and the workers.
type pipeline struct {
	broker      *queue.RabbitMQ
	attempts    *repository.GormAttemptRepo
	configCache *cache.ConfigCache
	idempotency *service.IdempotencyManager
	deliverer   *service.Deliverer
	dispatcher  *service.Dispatcher
	publisher   *queue.RabbitMQPublisher
	admin       *service.AdminService
}

func (a *app) buildPipeline(metrics *observability.Metrics) (*pipeline, error) {
	if a.rdb == nil {
		if err := a.connectRedis(); err != nil {
			return nil, err
		}
	}

	broker, err := queue.NewRabbitMQ(a.cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	a.closers = append(a.closers, broker.Close)

	publisher := queue.NewRabbitMQPublisher(broker)
	a.closers = append(a.closers, publisher.Close)

	store, err := infraredis.NewRedisStore(a.rdb, cacheKeyPrefix)
	if err != nil {
		return nil, err
	}

	attempts := repository.NewGormAttemptRepo(a.db)
	channelConfigs := repository.NewGormChannelConfigRepo(a.db)
	settings := repository.NewGormSettingRepo(a.db)

	configCache := cache.NewConfigCache(store, channelConfigs, settings, a.cfg.ConfigCacheTTL, a.logger)
	templates := template.NewEngine(store, repository.NewGormTemplateRepo(a.db), a.cfg.TemplateCacheTTL, a.logger)

	channelLimits, err := a.cfg.ChannelRateLimitMap()
	if err != nil {
		return nil, err
	}
	limiter, err := infraredis.NewRedisRateLimiter(a.rdb, cacheKeyPrefix, a.cfg.RateLimitPerSec, channelLimits)
	if err != nil {
		return nil, fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	delays, err := a.cfg.RetryDelayList()
	if err != nil {
		return nil, err
	}
	retries, err := service.NewRetryScheduler(attempts, publisher, configCache, service.RetryPolicy{
		Delays:     delays,
		MaxRetries: a.cfg.RetryMaxCount,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	retries.SetMetrics(metrics)

	breakerCfg := circuitbreaker.DefaultConfig("destination")
	breakerCfg.IsFailure = service.IsBreakerFailure
	breakers := circuitbreaker.NewSet(breakerCfg, a.logger)

	registry := provider.NewDefaultRegistry(provider.NewHTTPClient(a.cfg.SendTimeout), a.cfg.TelegramAPIURL)
	deliverer, err := service.NewDeliverer(registry, limiter, breakers, attempts, retries, a.cfg.SendTimeout, a.logger)
	if err != nil {
		return nil, err
	}
	deliverer.SetMetrics(metrics)

	idempotency, err := service.NewIdempotencyManager(repository.NewGormIdempotencyRepo(a.db), attempts, a.cfg.IdempotencyTTL, a.logger)
	if err != nil {
		return nil, err
	}

	dispatcher, err := service.NewDispatcher(configCache, templates, idempotency, attempts, deliverer, a.logger)
	if err != nil {
		return nil, err
	}
	dispatcher.SetMetrics(metrics)

	admin, err := service.NewAdminService(channelConfigs, settings, configCache, templates, a.logger)
	if err != nil {
		return nil, err
	}

	return &pipeline{
		broker:      broker,
		attempts:    attempts,
		configCache: configCache,
		idempotency: idempotency,
		deliverer:   deliverer,
		dispatcher:  dispatcher,
		publisher:   publisher,
		admin:       admin,
	}, nil
}

// deadLetterSink returns nil when Kafka mirroring is not configured.
func (a *app) deadLetterSink() (queue.DeadLetterSink, error) {
	brokers := a.cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := queue.NewKafkaProducer(brokers)
	if err != nil {
		return nil, err
	}
	sink, err := queue.NewKafkaDeadLetterSink(producer, a.cfg.KafkaDeadLetterTopic)
	if err != nil {
		_ = producer.Close()
		return nil, err
	}
	a.closers = append(a.closers, sink.Close)

	a.logger.Info("dead letters mirrored to kafka",
		zap.Strings("brokers", brokers),
		zap.String("topic", a.cfg.KafkaDeadLetterTopic),
	)
	return sink, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
