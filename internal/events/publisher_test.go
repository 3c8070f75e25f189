package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"checkout-service/internal/entity"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestPublish(t *testing.T) {
	w := &captureWriter{}
	p := NewPublisher(w)

	order := &entity.Order{
		ID:                    "id-1",
		UserID:                "user-1",
		CartID:                "cart:user-1",
		MerchantTransactionID: "TXN1",
		PaymentStatus:         entity.PaymentPaid,
		TotalAmount:           1500,
		OrderDate:             time.Now(),
	}
	require.NoError(t, p.Publish(context.Background(), entity.NewOrderEvent(entity.EventOrderPaid, order)))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "TXN1", string(w.msgs[0].Key))

	var ev entity.OrderEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, entity.EventOrderPaid, ev.Type)
	assert.Equal(t, "cart:user-1", ev.CartID)
	assert.Equal(t, entity.PaymentPaid, ev.PaymentStatus)
}

func TestPublish_WrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewPublisher(&captureWriter{err: boom})

	err := p.Publish(context.Background(), entity.OrderEvent{Type: entity.EventOrderCreated, MerchantTransactionID: "TXN1"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "order.created TXN1")
}

func TestPublish_EventsOfOneOrderShareKey(t *testing.T) {
	w := &captureWriter{}
	p := NewPublisher(w)
	order := &entity.Order{MerchantTransactionID: "TXN1"}

	for _, typ := range []entity.EventType{entity.EventOrderCreated, entity.EventOrderPaid, entity.EventOrderFailed} {
		require.NoError(t, p.Publish(context.Background(), entity.NewOrderEvent(typ, order)))
	}

	require.Len(t, w.msgs, 3)
	for _, msg := range w.msgs {
		assert.Equal(t, w.msgs[0].Key, msg.Key)
	}
}
