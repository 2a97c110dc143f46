package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/dukerupert/franchise/internal/domain"
)

// NewKafkaConfig returns the producer settings used for lifecycle events.
// The relay needs a synchronous ack before it marks a row dispatched.
func NewKafkaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "franchise-orders"
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Retry.Max = 5
	config.Producer.Retry.Backoff = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	// Keyed by order id so one order's events stay in order on a partition.
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// KafkaDispatcher publishes events to one topic keyed by order id.
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewKafkaDispatcher connects a synchronous producer to brokers.
func NewKafkaDispatcher(brokers []string, topic string, logger *slog.Logger) (*KafkaDispatcher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewKafkaConfig())
	if err != nil {
		return nil, fmt.Errorf("start kafka producer: %w", err)
	}
	return NewKafkaDispatcherWithProducer(producer, topic, logger), nil
}

func NewKafkaDispatcherWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaDispatcher{producer: producer, topic: topic, logger: logger}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, ev domain.LifecycleEvent) error {
	env, err := Encode(ctx, ev)
	if err != nil {
		return err
	}

	headers := make([]sarama.RecordHeader, 0, len(env.Headers))
	for k, v := range env.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	partition, offset, err := d.producer.SendMessage(&sarama.ProducerMessage{
		Topic:   d.topic,
		Key:     sarama.StringEncoder(env.Key),
		Value:   sarama.ByteEncoder(env.Payload),
		Headers: headers,
	})
	if err != nil {
		d.logger.Error("kafka publish failed", "event_id", ev.ID, "type", ev.Type, "error", err)
		return fmt.Errorf("publish %s: %w", ev.ID, err)
	}

	d.logger.Debug("kafka published",
		"event_id", ev.ID,
		"type", ev.Type,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

func (d *KafkaDispatcher) Close() error {
	return d.producer.Close()
}
