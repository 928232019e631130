package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nerrad567/iotrelay/internal/alert"
)

// ErrKafkaDisabled is returned by NewKafkaNotifier when no brokers are set.
var ErrKafkaDisabled = errors.New("notify: kafka has no brokers configured")

const kafkaWriteTimeout = 5 * time.Second

// KafkaConfig configures the Kafka notification channel.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alerts and notifications as JSON Events to a
// Kafka topic, keyed by device so one device's events stay ordered within
// a partition.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
	logger Logger
}

// NewKafkaNotifier creates a notifier writing to cfg.Topic.
func NewKafkaNotifier(cfg KafkaConfig, logger Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrKafkaDisabled
	}
	if cfg.Topic == "" {
		return nil, errors.New("notify: kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: kafkaWriteTimeout,
	}
	return newKafkaNotifier(w, cfg.Topic, logger), nil
}

func newKafkaNotifier(w messageWriter, topic string, logger Logger) *KafkaNotifier {
	if logger == nil {
		logger = noopLogger{}
	}
	return &KafkaNotifier{writer: w, topic: topic, logger: logger}
}

// NotifyAlert implements Notifier.
func (k *KafkaNotifier) NotifyAlert(ctx context.Context, a alert.Alert) error {
	return k.write(ctx, AlertEvent(a))
}

// Notify implements Notifier.
func (k *KafkaNotifier) Notify(ctx context.Context, msg Message) error {
	return k.write(ctx, MessageEvent(msg))
}

func (k *KafkaNotifier) write(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling %s event: %w", ev.Kind, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Key()),
		Value: body,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing %s event to %s: %w", ev.Kind, k.topic, err)
	}
	k.logger.Debug("event published to kafka", "topic", k.topic, "kind", ev.Kind, "key", ev.Key())
	return nil
}

// Close flushes and closes the underlying writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
