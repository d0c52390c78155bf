package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducerConfig holds the producer parameters.
type KafkaProducerConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic is the topic escrow events are written to.
	Topic string

	// MaxAttempts is how many times a produce is retried on transient error.
	// Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout. Defaults to 10s if zero.
	WriteTimeout time.Duration

	// Balancer decides partition selection. If nil, a Hash balancer keys
	// messages so events for the same allocation land on one partition.
	Balancer kafka.Balancer
}

// KafkaProducer wraps a kafka-go Writer with produce-with-retries behavior
// for the audit streamer. The high-level Writer does not report partition or
// offset, so those are returned as -1.
type KafkaProducer struct {
	writer      *kafka.Writer
	topic       string
	maxAttempts int
}

func NewKafkaProducer(cfg KafkaProducerConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &kafka.Hash{}
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     cfg.Balancer,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	return &KafkaProducer{
		writer:      w,
		topic:       cfg.Topic,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// Produce writes one message, retrying transient failures with linear backoff.
func (p *KafkaProducer) Produce(ctx context.Context, key []byte, value []byte) (int, int64, time.Time, error) {
	msg := kafka.Message{Key: key, Value: value}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return -1, -1, time.Time{}, ctx.Err()
		}
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			lastErr = err
			if attempt < p.maxAttempts {
				time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
			}
			continue
		}
		return -1, -1, time.Now().UTC(), nil
	}
	return -1, -1, time.Time{}, fmt.Errorf("kafka: produce after %d attempts: %w", p.maxAttempts, lastErr)
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
