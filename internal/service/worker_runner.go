package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notification-dispatch/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// WorkerRunner runs the retry consumers and the dead-letter consumer until
// the context is cancelled or one of them fails.
type WorkerRunner struct {
	consumer    queue.Consumer
	retries     queue.RetryHandler
	deadLetters queue.DeadLetterHandler
	concurrency int
	logger      *zap.Logger
}

func NewWorkerRunner(
	consumer queue.Consumer,
	processor *QueueProcessor,
	deadLetters *DeadLetterProcessor,
	concurrency int,
	logger *zap.Logger,
) (*WorkerRunner, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("queue processor is required")
	}
	if deadLetters == nil {
		return nil, fmt.Errorf("dead letter processor is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerRunner{
		consumer:    consumer,
		retries:     processor.ProcessRetry,
		deadLetters: deadLetters.Process,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

func (r *WorkerRunner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < r.concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			return r.run(workerID, queue.RetryQueueName, func() error {
				return r.consumer.ConsumeRetries(groupCtx, r.retries)
			})
		})
	}

	g.Go(func() error {
		return r.run(0, queue.DeadLetterQueueName, func() error {
			return r.consumer.ConsumeDeadLetters(groupCtx, r.deadLetters)
		})
	})

	return g.Wait()
}

func (r *WorkerRunner) run(workerID int, queueName string, consume func() error) error {
	r.logger.Info("worker started",
		zap.Int("workerId", workerID),
		zap.String("queue", queueName),
	)

	if err := consume(); err != nil {
		r.logger.Error("worker stopped with error",
			zap.Int("workerId", workerID),
			zap.String("queue", queueName),
			zap.Error(err),
		)
		return err
	}

	r.logger.Info("worker stopped",
		zap.Int("workerId", workerID),
		zap.String("queue", queueName),
	)
	return nil
}
