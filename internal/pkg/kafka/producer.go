package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/Gopher0727/Strangers/config"
	"github.com/Gopher0727/Strangers/internal/events"
)

// Producer publishes session events to one Kafka topic, keyed by session ID
// so that a session's events stay ordered within a partition.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	retries  int
	backoff  time.Duration
}

// NewProducer creates a new Kafka producer instance.
// It establishes a connection to the Kafka brokers specified in the configuration.
//
// Parameters:
//   - cfg: Kafka configuration containing broker addresses, topic and retry settings
//
// Returns:
//   - *Producer: The created producer instance
//   - error: Any error encountered during initialization
func NewProducer(cfg *config.KafkaConfig) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = cfg.MaxRetries
	saramaConfig.Producer.Retry.Backoff = time.Duration(cfg.RetryBackoffMs) * time.Millisecond
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	// Set connection timeouts to prevent hanging
	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond
	saramaConfig.Metadata.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerFromClient(producer, cfg), nil
}

// NewProducerFromClient wraps an existing sync producer.
func NewProducerFromClient(producer sarama.SyncProducer, cfg *config.KafkaConfig) *Producer {
	return &Producer{
		producer: producer,
		topic:    cfg.Topic,
		retries:  cfg.MaxRetries,
		backoff:  time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
	}
}

// Produce sends one raw message to the producer's topic.
//
// Returns:
//   - partition: The partition the message was sent to
//   - offset: The offset of the message in the partition
//   - error: Any error encountered during sending
func (p *Producer) Produce(ctx context.Context, key []byte, value []byte) (partition int32, offset int64, err error) {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}

	partition, offset, err = p.producer.SendMessage(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to send message to topic %s: %w", p.topic, err)
	}
	return partition, offset, nil
}

// Send encodes e as JSON and produces it with exponential backoff between
// attempts. It satisfies events.Sink.
func (p *Producer) Send(ctx context.Context, e events.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", e.Type, err)
	}

	var lastErr error
	backoff := p.backoff
	for attempt := 0; attempt <= p.retries; attempt++ {
		_, _, err := p.Produce(ctx, []byte(e.SessionID), value)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < p.retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2 // Exponential backoff
		}
	}
	return fmt.Errorf("failed to send event after %d attempts: %w", p.retries+1, lastErr)
}

// Close closes the Kafka producer and releases all resources.
func (p *Producer) Close() error {
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			return fmt.Errorf("failed to close kafka producer: %w", err)
		}
	}
	return nil
}
