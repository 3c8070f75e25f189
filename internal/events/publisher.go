// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"checkout-service/internal/entity"

	"github.com/segmentio/kafka-go"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	writer MessageWriter
}

func NewPublisher(writer MessageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// Key returns the message key. The event type travels in the value.
func Key(ev entity.OrderEvent) string {
	return ev.MerchantTransactionID
}

func (p *Publisher) Publish(ctx context.Context, ev entity.OrderEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(Key(ev)),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish order.%s %s: %w", ev.Type, msg.Key, err)
	}
	return nil
}
