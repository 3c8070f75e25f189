package entity

import (
	"encoding/json"
	"time"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Terminal reports whether no further automated transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentFailed
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderStatusFor returns the order status that accompanies a terminal payment status.
func OrderStatusFor(p PaymentStatus) OrderStatus {
	switch p {
	case PaymentPaid:
		return OrderConfirmed
	case PaymentFailed:
		return OrderCancelled
	default:
		return OrderPending
	}
}

const (
	PaymentMethodPhonePe = "phonepe"
	DirectCheckoutCartID = "direct-checkout"
)

type Order struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"userId"`
	CartID                string          `json:"cartId"`
	MerchantTransactionID string          `json:"merchantTransactionId"`
	CartItems             []OrderItem     `json:"cartItems"`
	AddressInfo           Address         `json:"addressInfo"`
	OrderStatus           OrderStatus     `json:"orderStatus"`
	PaymentStatus         PaymentStatus   `json:"paymentStatus"`
	PaymentMethod         string          `json:"paymentMethod"`
	TotalAmount           float64         `json:"totalAmount"`
	GatewayTransactionID  string          `json:"gatewayTransactionId,omitempty"`
	TransactionDetails    json.RawMessage `json:"transactionDetails,omitempty"`
	OrderDate             time.Time       `json:"orderDate"`
	LastUpdated           time.Time       `json:"lastUpdated"`
}

type OrderItem struct {
	ProductID string  `json:"productId" validate:"required"`
	Title     string  `json:"title" validate:"required"`
	Image     string  `json:"image"`
	Price     float64 `json:"price" validate:"gt=0"`
	Quantity  int     `json:"quantity" validate:"gte=1"`
	Size      string  `json:"size"`
	Color     Color   `json:"color"`
}

type Color struct {
	ColorName string `json:"colorName"`
	ColorCode string `json:"colorCode"`
	Image     string `json:"image"`
}

type Address struct {
	Address string `json:"address" validate:"required"`
	City    string `json:"city" validate:"required"`
	Pincode string `json:"pincode" validate:"required"`
	Phone   string `json:"phone" validate:"required"`
	Notes   string `json:"notes"`
}

// StatusUpdate is the payload of a terminal transition.
type StatusUpdate struct {
	PaymentStatus        PaymentStatus
	GatewayTransactionID string
	TransactionDetails   json.RawMessage
}
