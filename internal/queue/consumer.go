package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var _ Consumer = (*RabbitMQConsumer)(nil)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) ConsumeRetries(ctx context.Context, handler RetryHandler) error {
	if handler == nil {
		return fmt.Errorf("retry handler is required")
	}
	return c.consume(ctx, RetryQueueName, func(ctx context.Context, d amqp.Delivery) error {
		return handleDelivery[RetryMessage](ctx, c.logger, d, handler)
	})
}

func (c *RabbitMQConsumer) ConsumeDeadLetters(ctx context.Context, handler DeadLetterHandler) error {
	if handler == nil {
		return fmt.Errorf("dead-letter handler is required")
	}
	return c.consume(ctx, DeadLetterQueueName, func(ctx context.Context, d amqp.Delivery) error {
		return handleDelivery[DeadLetterMessage](ctx, c.logger, d, handler)
	})
}

func (c *RabbitMQConsumer) consume(ctx context.Context, queue string, handle deliveryFunc) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handle)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("consumer interrupted, reconnecting",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

type deliveryFunc func(ctx context.Context, d amqp.Delivery) error

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handle deliveryFunc) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := handle(ctx, d); err != nil {
				return err
			}
		}
	}
}

type validatable interface {
	Validate() error
}

// acknowledger is the subset of amqp.Delivery used to settle a message.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	Reject(requeue bool) error
}

func handleDelivery[T validatable](ctx context.Context, logger *zap.Logger, d amqp.Delivery, handler func(context.Context, T) error) error {
	return settle(ctx, logger, d.Body, d.RoutingKey, deliveryAcker{d: d}, handler)
}

type deliveryAcker struct {
	d amqp.Delivery
}

func (a deliveryAcker) Ack(multiple bool) error           { return a.d.Ack(multiple) }
func (a deliveryAcker) Nack(multiple, requeue bool) error { return a.d.Nack(multiple, requeue) }
func (a deliveryAcker) Reject(requeue bool) error         { return a.d.Reject(requeue) }

// settle decodes body into T and acks, rejects or requeues depending on the
// outcome. Malformed payloads are rejected without requeue.
func settle[T validatable](ctx context.Context, logger *zap.Logger, body []byte, routingKey string, ack acknowledger, handler func(context.Context, T) error) error {
	var msg T
	if err := json.Unmarshal(body, &msg); err != nil {
		logger.Warn("rejecting message: invalid JSON",
			zap.Error(err),
			zap.String("routingKey", routingKey),
		)
		if rejectErr := ack.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	if err := msg.Validate(); err != nil {
		logger.Warn("rejecting message: validation failed",
			zap.Error(err),
			zap.String("routingKey", routingKey),
		)
		if rejectErr := ack.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid payload: %w", rejectErr)
		}
		return nil
	}

	if err := handler(ctx, msg); err != nil {
		logger.Warn("handler failed, requeueing message",
			zap.Error(err),
			zap.String("routingKey", routingKey),
		)
		if nackErr := ack.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := ack.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
