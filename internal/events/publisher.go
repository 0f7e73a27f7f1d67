package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const EventDeliveryHandled = "webhook.handled"

// DeliveryHandled is emitted after a delivery's handler succeeded
type DeliveryHandled struct {
	Event      string    `json:"event"`
	StoreID    string    `json:"store_id"`
	DeliveryID string    `json:"delivery_id"`
	Topic      string    `json:"topic"`
	Result     string    `json:"result"`
	HandledAt  time.Time `json:"handled_at"`
}

//go:generate mockgen -destination=../mocks/mock_publisher.go -package=mocks github.com/jafarshop/webhookgw/internal/events Publisher

// Publisher announces handled deliveries to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, event DeliveryHandled) error
	Close() error
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, DeliveryHandled) error { return nil }
func (NoopPublisher) Close() error                                   { return nil }

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by store id, so all
// events of one store land on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event DeliveryHandled) error {
	if event.Event == "" {
		event.Event = EventDeliveryHandled
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.StoreID),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
