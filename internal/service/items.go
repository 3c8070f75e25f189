package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"checkout-service/internal/entity"
	"checkout-service/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// CreateOrderRequest is the checkout submission. Source selects where the
// line items come from; when empty it is inferred from CartItems.
type CreateOrderRequest struct {
	UserID      string             `json:"userId" validate:"required"`
	Source      entity.ItemSource  `json:"source"`
	CartID      string             `json:"cartId"`
	CartItems   []entity.OrderItem `json:"cartItems" validate:"min=1,dive"`
	AddressInfo entity.Address     `json:"addressInfo"`
	TotalAmount float64            `json:"totalAmount" validate:"gt=0"`
}

// checkoutItems is the item list resolved once before order creation.
type checkoutItems struct {
	source entity.ItemSource
	cartID string
	items  []entity.OrderItem
}

func (s *OrderService) resolveItems(ctx context.Context, req *CreateOrderRequest) (*checkoutItems, error) {
	source := req.Source
	if source == "" {
		source = entity.SourceCart
		if len(req.CartItems) > 0 {
			source = entity.SourceDirect
		}
	}

	switch source {
	case entity.SourceDirect:
		return &checkoutItems{source: source, cartID: entity.DirectCheckoutCartID, items: req.CartItems}, nil
	case entity.SourceCart:
		if s.carts == nil {
			return nil, validationError("cart checkout is not available", nil)
		}
		cart, err := s.carts.Get(ctx, req.UserID)
		if errors.Is(err, repository.ErrCartNotFound) {
			return nil, validationError("cart is empty", map[string]string{"cartItems": "cartItems must not be empty"})
		}
		if err != nil {
			return nil, newError(KindInternal, "failed to load cart", err)
		}
		cartID := req.CartID
		if cartID == "" {
			cartID = "cart:" + req.UserID
		}
		return &checkoutItems{source: source, cartID: cartID, items: cart.Items}, nil
	default:
		return nil, validationError(fmt.Sprintf("unknown item source %q", source), map[string]string{"source": "source must be cart or direct"})
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *OrderService) validate(req *CreateOrderRequest) error {
	if err := s.validator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return newError(KindInternal, "validation failed", err)
		}
		return validationError("invalid order data", formatValidationErrors(verrs))
	}

	total := decimal.NewFromFloat(req.TotalAmount).Round(2)
	if sum := sumItems(req.CartItems); !sum.Equal(total) {
		return validationError("totalAmount does not match line items", map[string]string{
			"totalAmount": fmt.Sprintf("totalAmount must equal %s", sum.StringFixed(2)),
		})
	}
	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "CreateOrderRequest.")
		if field == "" {
			field = fe.Field()
		}

		switch fe.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "min":
			fields[field] = fmt.Sprintf("%s must contain at least %s item(s)", field, fe.Param())
		case "gt":
			fields[field] = fmt.Sprintf("%s must be greater than %s", field, fe.Param())
		case "gte":
			fields[field] = fmt.Sprintf("%s must be at least %s", field, fe.Param())
		default:
			fields[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return fields
}

func sumItems(items []entity.OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(decimal.NewFromFloat(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum.Round(2)
}

// toMinorUnits converts rupees to paise.
func toMinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
}
