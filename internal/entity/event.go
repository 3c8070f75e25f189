package entity

import "time"

type EventType string

const (
	EventOrderCreated EventType = "created"
	EventOrderPaid    EventType = "paid"
	EventOrderFailed  EventType = "failed"
)

// OrderEvent is published on the order topic keyed by merchant transaction id,
// so all events of one order land on the same partition in order.
type OrderEvent struct {
	Type                  EventType     `json:"type"`
	OrderID               string        `json:"orderId"`
	MerchantTransactionID string        `json:"merchantTransactionId"`
	UserID                string        `json:"userId"`
	CartID                string        `json:"cartId"`
	PaymentStatus         PaymentStatus `json:"paymentStatus"`
	TotalAmount           float64       `json:"totalAmount"`
	OccurredAt            time.Time     `json:"occurredAt"`
}

func NewOrderEvent(t EventType, o *Order) OrderEvent {
	return OrderEvent{
		Type:                  t,
		OrderID:               o.ID,
		MerchantTransactionID: o.MerchantTransactionID,
		UserID:                o.UserID,
		CartID:                o.CartID,
		PaymentStatus:         o.PaymentStatus,
		TotalAmount:           o.TotalAmount,
		OccurredAt:            time.Now().UTC(),
	}
}
