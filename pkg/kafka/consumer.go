// Package kafka carries search and index events between the services over
// segmentio/kafka-go. Values are JSON; handlers decode them with DecodeJSON.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/OnlineMo/DeepResearch-Web/pkg/config"
	"github.com/OnlineMo/DeepResearch-Web/pkg/resilience"
)

// MessageHandler processes one message. A returned error is retried; after
// the last attempt the message is logged and committed anyway.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic and hands each message to a MessageHandler.
type Consumer struct {
	reader       messageReader
	handler      MessageHandler
	retry        resilience.RetryConfig
	fetchBackoff time.Duration
	logger       *slog.Logger
}

// NewConsumer creates a Consumer for topic. groupID overrides
// cfg.ConsumerGroup when non-empty; searcher replicas pass a per-instance
// group so every replica sees every index event.
func NewConsumer(cfg config.KafkaConfig, topic, groupID string, handler MessageHandler) *Consumer {
	if groupID == "" {
		groupID = cfg.ConsumerGroup
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	c := newConsumer(r, handler)
	c.logger = c.logger.With("topic", topic, "group", groupID)
	return c
}

func newConsumer(r messageReader, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		fetchBackoff: time.Second,
		logger:       slog.Default().With("component", "kafka-consumer"),
	}
}

// Start consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			select {
			case <-time.After(c.fetchBackoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))
	log.Debug("message received", "value_size", len(msg.Value))

	err := resilience.Retry(ctx, "handle message", c.retry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("dropping message after failed attempts", "error", err)
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		log.Error("failed to commit message", "error", err)
	}
}

// Close closes the underlying reader. Start closes it too on return.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
