package queue

import (
	"context"
	"fmt"
	"time"
)

// Publisher publishes retry and dead-letter messages.
type Publisher interface {
	PublishRetry(ctx context.Context, msg RetryMessage, delay time.Duration) error
	PublishDeadLetter(ctx context.Context, msg DeadLetterMessage) error
	Close() error
}

type RetryHandler func(ctx context.Context, msg RetryMessage) error

type DeadLetterHandler func(ctx context.Context, msg DeadLetterMessage) error

// Consumer consumes retry and dead-letter messages. A handler error requeues
// the delivery; success acks it.
type Consumer interface {
	ConsumeRetries(ctx context.Context, handler RetryHandler) error
	ConsumeDeadLetters(ctx context.Context, handler DeadLetterHandler) error
	Close() error
}

const (
	RetryQueueName      = "notify.retry"
	DeadLetterQueueName = "notify.dead"

	deadLetterRoutingKey = "dead"
)

// WaitQueueName returns the TTL queue that holds retry messages for delay,
// e.g. notify.retry.wait.15000ms.
func WaitQueueName(delay time.Duration) string {
	return fmt.Sprintf("%s.wait.%dms", RetryQueueName, delayMillis(delay))
}

func delayMillis(delay time.Duration) int64 {
	ms := delay.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return ms
}
