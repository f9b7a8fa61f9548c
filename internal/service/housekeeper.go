package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultHousekeepingSchedule = "@every 1h"
	defaultHousekeepingTimeout  = 5 * time.Minute
)

// IdempotencyCleaner deletes expired idempotency records.
type IdempotencyCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Housekeeper runs periodic cleanup on a cron schedule.
type Housekeeper struct {
	cleaner  IdempotencyCleaner
	schedule string
	parser   cron.Parser
	timeout  time.Duration
	logger   *zap.Logger
}

func NewHousekeeper(cleaner IdempotencyCleaner, schedule string, logger *zap.Logger) (*Housekeeper, error) {
	if cleaner == nil {
		return nil, fmt.Errorf("idempotency cleaner is required")
	}
	if schedule == "" {
		schedule = defaultHousekeepingSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid housekeeping schedule %q: %w", schedule, err)
	}

	return &Housekeeper{
		cleaner:  cleaner,
		schedule: schedule,
		parser:   parser,
		timeout:  defaultHousekeepingTimeout,
		logger:   logger,
	}, nil
}

// Start blocks until ctx is cancelled, then waits for a running job to finish.
func (h *Housekeeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c := cron.New(
		cron.WithParser(h.parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(h.schedule, func() {
		if err := h.RunOnce(ctx); err != nil && ctx.Err() == nil {
			h.logger.Error("housekeeping run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to register housekeeping job: %w", err)
	}

	c.Start()
	h.logger.Info("housekeeper started", zap.String("schedule", h.schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	h.logger.Info("housekeeper stopped")
	return nil
}

// RunOnce performs a single cleanup pass.
func (h *Housekeeper) RunOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	deleted, err := h.cleaner.CleanupExpired(runCtx)
	if err != nil {
		return err
	}

	h.logger.Info("housekeeping completed",
		zap.Int64("idempotencyRecordsDeleted", deleted),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
