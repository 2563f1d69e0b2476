// Package kafka publishes job lifecycle events to Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher wraps a Kafka writer. The topic is chosen per message.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

// New creates a publisher for the given broker.
func New(broker string) *Publisher {
	return NewWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	})
}

// NewWithWriter builds a publisher using a custom writer (tests).
func NewWithWriter(writer messageWriter) *Publisher {
	return &Publisher{writer: writer, now: func() time.Time { return time.Now().UTC() }}
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Publish marshals payload to JSON and writes it to topic. Job events are
// keyed by job id so one job's events stay on one partition.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := kafka.Message{
		Topic: topic,
		Value: value,
		Time:  p.now(),
	}
	var key string
	switch ev := payload.(type) {
	case crawler.JobEvent:
		key = ev.JobID
	case *crawler.JobEvent:
		key = ev.JobID
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return fmt.Sprintf("%s/%s", topic, key), nil
}
