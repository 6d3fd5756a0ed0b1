// Package kafka carries post events over segmentio/kafka-go: a producer that
// publishes JSON events and a consumer group loop that feeds them to a
// handler.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// fetchBackoff is the pause after a failed fetch before trying again.
const fetchBackoff = time.Second

// MessageHandler processes one message. Errors wrapped with
// resilience.Permanent are not retried.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Reader is the part of *kafka.Reader the consume loop needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer runs a MessageHandler over a topic. A failing message is retried
// with backoff; once the attempts run out it is logged and committed, so one
// bad event never stalls the partition.
type Consumer struct {
	reader  Reader
	handler MessageHandler
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

// ConsumerOption customises a Consumer.
type ConsumerOption func(*Consumer)

// WithRetry sets the backoff used between handler attempts.
func WithRetry(cfg resilience.RetryConfig) ConsumerOption {
	return func(c *Consumer) { c.retry = cfg }
}

// NewConsumer joins cfg.ConsumerGroup on topic.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
	return NewConsumerWithReader(r, topic, handler, opts...)
}

// NewConsumerWithReader builds a Consumer on an existing Reader.
func NewConsumerWithReader(r Reader, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:  r,
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		logger: slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start consumes until ctx is cancelled, then closes the reader. A
// cancelled context is a clean stop and returns the Close error only.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return c.reader.Close()
			}
			c.logger.Error("failed to fetch message", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(fetchBackoff):
			}
			continue
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset)
	log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))

	err := resilience.Retry(ctx, "kafka.handle", c.retry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	if err != nil {
		if ctx.Err() != nil {
			// Left uncommitted; the group redelivers it after a restart.
			return
		}
		log.Error("dropping message after failed handling", "error", err)
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error("failed to commit message", "error", err)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T. Decode failures are
// permanent, since retrying cannot fix the payload.
func DecodeJSON[T any](value []byte) (T, error) {
	var out T
	if err := json.Unmarshal(value, &out); err != nil {
		return out, resilience.Permanent(fmt.Errorf("decoding kafka message: %w", err))
	}
	return out, nil
}
