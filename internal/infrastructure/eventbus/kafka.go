// Package eventbus publishes engine events to Kafka. Scan completion and
// entity promotion land on one topic, keyed by document id so per-document
// ordering survives partitioning.
package eventbus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/storyweave/lorekeeper/internal/engine/scan"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/pkg/errors"
)

// Config holds the producer parameters.
type Config struct {
	Brokers      []string
	Topic        string
	MaxRetries   int
	BatchSize    int
	WriteTimeout time.Duration
}

// messageWriter abstracts kafka.Writer for testing.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink implements scan.EventSink on a kafka-go writer.
type KafkaSink struct {
	writer messageWriter
	topic  string
	logger logging.Logger
	closed atomic.Bool
}

// NewKafkaSink builds a sink with the service's standard writer settings.
func NewKafkaSink(cfg Config, logger logging.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.InvalidParam("eventbus: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.InvalidParam("eventbus: topic is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxRetries,
		BatchSize:    cfg.BatchSize,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaSink{
		writer: writer,
		topic:  cfg.Topic,
		logger: logger.Named("eventbus"),
	}, nil
}

// Publish serializes the event as JSON and writes it keyed by document id.
func (s *KafkaSink) Publish(ctx context.Context, event scan.Event) error {
	if s.closed.Load() {
		return errors.New(errors.CodeEventBusError, "eventbus: sink closed")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "eventbus: event marshal failed")
	}

	msg := kafka.Message{
		Key:   []byte(event.DocumentID),
		Value: payload,
		Time:  event.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, errors.CodeEventBusError, "eventbus: publish failed")
	}

	s.logger.Debug("event published",
		logging.String("type", event.Type),
		logging.String("document", event.DocumentID))
	return nil
}

// Close flushes and closes the writer. Idempotent.
func (s *KafkaSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.writer.Close()
}
