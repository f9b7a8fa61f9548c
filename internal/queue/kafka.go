package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

// DeadLetterSink receives a copy of every terminal failure for operators.
type DeadLetterSink interface {
	Publish(ctx context.Context, msg DeadLetterMessage) error
	Close() error
}

// KafkaDeadLetterSink mirrors dead letters onto a Kafka topic keyed by attempt id.
type KafkaDeadLetterSink struct {
	producer sarama.SyncProducer
	topic    string
}

var _ DeadLetterSink = (*KafkaDeadLetterSink)(nil)

func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

func NewKafkaDeadLetterSink(producer sarama.SyncProducer, topic string) (*KafkaDeadLetterSink, error) {
	if producer == nil {
		return nil, fmt.Errorf("kafka producer is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	return &KafkaDeadLetterSink{producer: producer, topic: topic}, nil
}

func (s *KafkaDeadLetterSink) Publish(ctx context.Context, msg DeadLetterMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	record := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(msg.AttemptID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("channel"), Value: []byte(msg.Channel)},
		},
	}

	done := make(chan error, 1)
	go func() {
		_, _, sendErr := s.producer.SendMessage(record)
		done <- sendErr
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to publish dead letter %s: %w", msg.AttemptID, err)
		}
		return nil
	}
}

func (s *KafkaDeadLetterSink) Close() error {
	return s.producer.Close()
}
