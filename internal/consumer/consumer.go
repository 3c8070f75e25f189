// Package consumer reacts to order events published on the order topic.
package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"checkout-service/internal/entity"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type CartClearer interface {
	ClearCart(ctx context.Context, userID string) error
}

type Consumer struct {
	reader MessageReader
	carts  CartClearer
	logger zerolog.Logger
}

func NewConsumer(reader MessageReader, carts CartClearer, logger zerolog.Logger) *Consumer {
	return &Consumer{
		reader: reader,
		carts:  carts,
		logger: logger.With().Str("component", "order-consumer").Logger(),
	}
}

// Start reads order events until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info().Msg("Order consumer stopping")
				return
			}
			c.logger.Error().Err(err).Msg("Error reading message")
			continue
		}

		c.processMessage(ctx, msg)
	}
}

// processMessage handles one event. The key is the merchant transaction id.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	var ev entity.OrderEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.logger.Error().Err(err).Str("key", string(msg.Key)).Msg("Error unmarshalling message")
		return
	}

	switch ev.Type {
	case entity.EventOrderPaid:
		// direct checkouts never touched the cart
		if ev.CartID == entity.DirectCheckoutCartID {
			return
		}
		if err := c.carts.ClearCart(ctx, ev.UserID); err != nil {
			c.logger.Error().Err(err).
				Str("merchant_transaction_id", ev.MerchantTransactionID).
				Str("user_id", ev.UserID).
				Msg("Error clearing cart")
			return
		}
		c.logger.Info().
			Str("merchant_transaction_id", ev.MerchantTransactionID).
			Str("user_id", ev.UserID).
			Msg("Cart cleared after payment")
	case entity.EventOrderCreated, entity.EventOrderFailed:
	default:
		c.logger.Warn().Str("key", string(msg.Key)).Str("type", string(ev.Type)).Msg("Unknown order event")
	}
}
