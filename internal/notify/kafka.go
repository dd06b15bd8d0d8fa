package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes notifications to a topic keyed by tenant, so one tenant's
// messages stay ordered within a partition.
type Kafka struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

func NewKafka(brokers []string, topic string, logger *slog.Logger) *Kafka {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
		BatchTimeout:           50 * time.Millisecond,
	}
	logger.Info("kafka notifier configured", "brokers", brokers, "topic", topic)
	return &Kafka{writer: writer, topic: topic, logger: logger}
}

type notificationMessage struct {
	domain.Notification
	SentAt time.Time `json:"sent_at"`
}

func (k *Kafka) Notify(ctx context.Context, n domain.Notification) error {
	data, err := json.Marshal(notificationMessage{Notification: n, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.TenantID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "category", Value: []byte(n.Category)},
		},
	})
	if err != nil {
		k.logger.ErrorContext(ctx, "failed to publish notification",
			"topic", k.topic, "tenant_id", n.TenantID, "error", err)
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
