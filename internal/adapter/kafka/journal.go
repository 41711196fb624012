// Package kafka publishes per-event cycle outcomes to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// Journal produces one message per event outcome.
// It implements pipeline.Journal.
type Journal struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewJournal creates a Kafka producer for the alert journal topic.
func NewJournal(brokers []string, topic string, logger *slog.Logger) *Journal {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Journal{writer: w, logger: logger}
}

// Publish writes all outcomes of a cycle in a single WriteMessages call.
// Messages are keyed by event id so every outcome of an event lands on the
// same partition.
func (j *Journal) Publish(ctx context.Context, outcomes []domain.EventOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(outcomes))
	for i := range outcomes {
		msg, err := serializeOutcome(outcomes[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := j.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write journal messages: %w", err)
	}
	j.logger.Debug("journal published", "messages", len(msgs), "topic", j.writer.Topic)
	return nil
}

func (j *Journal) Close() error {
	return j.writer.Close()
}

// serializeOutcome marshals an EventOutcome into a Kafka message.
func serializeOutcome(o domain.EventOutcome) (kafkago.Message, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize event outcome: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(o.EventID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "disposition", Value: []byte(o.Disposition)},
			{Key: "cycle_id", Value: []byte(o.CycleID)},
			{Key: "processed_at", Value: []byte(o.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
