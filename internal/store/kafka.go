package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/paper-harvester/internal/config"
	"github.com/helixir/paper-harvester/internal/domain"
	"github.com/helixir/paper-harvester/internal/observability"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher emits a PaperEvent for every paper that reaches a terminal
// status. Messages are keyed by canonical ID so all events of a paper land
// on one partition.
type KafkaPublisher struct {
	writer messageWriter
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher backed by a kafka.Writer.
func NewKafkaPublisher(cfg config.KafkaConfig, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, domain.NewValidationError("kafka.brokers", "at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, domain.NewValidationError("kafka.topic", "topic is required")
	}
	logger = logger.With().Str("component", "kafka_publisher").Logger()

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
		Logger:       observability.NewPrintfLogger(logger, "kafka", zerolog.DebugLevel),
		ErrorLogger:  observability.NewPrintfLogger(logger, "kafka", zerolog.ErrorLevel),
	}
	return newKafkaPublisher(w, logger), nil
}

func newKafkaPublisher(w messageWriter, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger}
}

// Write publishes the paper's event. Non-terminal papers are ignored.
func (k *KafkaPublisher) Write(ctx context.Context, p *domain.Paper) error {
	if p == nil || !p.EffectiveStatus().IsTerminal() {
		return nil
	}
	event := domain.NewPaperEvent(observability.RunIDFromContext(ctx), p)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal paper event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.CanonicalID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.CanonicalID, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
