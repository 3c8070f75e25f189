package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/entity"
	"checkout-service/internal/gateway"
	"checkout-service/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type OrderStore interface {
	Insert(ctx context.Context, order *entity.Order) error
	FindByMerchantTransactionID(ctx context.Context, merchantTransactionID string) (*entity.Order, error)
	FindByID(ctx context.Context, id string) (*entity.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*entity.Order, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Order, error)
	UpdateStatus(ctx context.Context, merchantTransactionID string, upd entity.StatusUpdate) (*entity.Order, bool, error)
}

type CartStore interface {
	Get(ctx context.Context, userID string) (*entity.Cart, error)
	Save(ctx context.Context, cart *entity.Cart) error
	Clear(ctx context.Context, userID string) error
}

type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type PaymentGateway interface {
	InitiatePayment(ctx context.Context, req gateway.PayRequest) (string, error)
	CheckStatus(ctx context.Context, merchantTransactionID string) (*gateway.StatusResult, error)
}

type ChecksumVerifier interface {
	Verify(payload, endpointPath, provided string) bool
}

type EventPublisher interface {
	Publish(ctx context.Context, event entity.OrderEvent) error
}

// Deps are the collaborators of OrderService. Carts, Idempotency and Events
// may be nil.
type Deps struct {
	Orders      OrderStore
	Carts       CartStore
	Idempotency IdempotencyStore
	Gateway     PaymentGateway
	Verifier    ChecksumVerifier
	Events      EventPublisher
}

type Options struct {
	FrontendURL string
	BackendURL  string
	// PendingExpiry is how long an order may stay pending before it needs reconciliation.
	PendingExpiry      time.Duration
	ReconcileBatchSize int
}

// OrderService owns the order lifecycle: creation, payment session
// initiation, gateway signals and reconciliation.
type OrderService struct {
	orders   OrderStore
	carts    CartStore
	idem     IdempotencyStore
	gateway  PaymentGateway
	verifier ChecksumVerifier
	events   EventPublisher

	opts      Options
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer

	now      func() time.Time
	newTxnID func() string
}

func NewOrderService(deps Deps, opts Options, logger zerolog.Logger) *OrderService {
	if opts.PendingExpiry <= 0 {
		opts.PendingExpiry = 30 * time.Minute
	}
	if opts.ReconcileBatchSize <= 0 {
		opts.ReconcileBatchSize = 50
	}
	opts.FrontendURL = strings.TrimRight(opts.FrontendURL, "/")
	opts.BackendURL = strings.TrimRight(opts.BackendURL, "/")

	return &OrderService{
		orders:    deps.Orders,
		carts:     deps.Carts,
		idem:      deps.Idempotency,
		gateway:   deps.Gateway,
		verifier:  deps.Verifier,
		events:    deps.Events,
		opts:      opts,
		validator: newValidator(),
		logger:    logger.With().Str("component", "order-service").Logger(),
		tracer:    otel.Tracer("service/order"),
		now:       time.Now,
		newTxnID:  NewTransactionID,
	}
}

type CreateOrderResult struct {
	OrderID               string `json:"orderId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	RedirectURL           string `json:"redirectUrl"`
}

// CreateOrder persists a pending order and opens a payment session for it.
// The order is stored before the gateway is called, so a gateway failure
// leaves a pending order behind for reconciliation. A claimed idempotency key
// is released again when creation fails, so the submission can be retried.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest, idempotencyKey string) (_ *CreateOrderResult, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	items, err := s.resolveItems(ctx, &req)
	if err != nil {
		return nil, err
	}
	req.CartItems = items.items

	if err := s.validate(&req); err != nil {
		return nil, err
	}

	if idempotencyKey != "" && s.idem != nil {
		claimed, claimErr := s.idem.Claim(ctx, idempotencyKey)
		if claimErr != nil {
			s.logger.Error().Err(claimErr).Str("user_id", req.UserID).Msg("Error claiming idempotency key")
			return nil, newError(KindInternal, "failed to create order", claimErr)
		}
		if !claimed {
			return nil, newError(KindConflict, "duplicate checkout submission", nil)
		}
		defer func() {
			if err != nil {
				s.releaseIdempotencyKey(ctx, idempotencyKey)
			}
		}()
	}

	now := s.now().UTC()
	order := &entity.Order{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		CartID:        items.cartID,
		CartItems:     req.CartItems,
		AddressInfo:   req.AddressInfo,
		OrderStatus:   entity.OrderPending,
		PaymentStatus: entity.PaymentPending,
		PaymentMethod: entity.PaymentMethodPhonePe,
		TotalAmount:   req.TotalAmount,
		OrderDate:     now,
		LastUpdated:   now,
	}

	if err := s.insertWithUniqueTransactionID(ctx, order); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("merchant_transaction_id", order.MerchantTransactionID))
	ordersCreated.Inc()

	log := s.logger.With().
		Str("merchant_transaction_id", order.MerchantTransactionID).
		Str("order_id", order.ID).
		Logger()
	log.Info().
		Str("source", string(items.source)).
		Float64("total_amount", order.TotalAmount).
		Msg("Order created")

	s.publish(ctx, entity.EventOrderCreated, order)

	redirectURL, err := s.gateway.InitiatePayment(ctx, gateway.PayRequest{
		MerchantTransactionID: order.MerchantTransactionID,
		MerchantUserID:        order.UserID,
		AmountMinorUnits:      toMinorUnits(order.TotalAmount),
		RedirectURL:           s.opts.BackendURL + "/api/shop/order/phonepe-redirect?mtId=" + url.QueryEscape(order.MerchantTransactionID),
		CallbackURL:           s.opts.BackendURL + "/api/shop/order/phonepe-callback",
		MobileNumber:          order.AddressInfo.Phone,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment initiation failed")

		svcErr := newError(KindPaymentInitiation, "payment initiation failed", err)
		if gateway.IsTimeout(err) {
			svcErr.Kind = KindGatewayTimeout
			svcErr.Message = "payment gateway timed out"
		}
		paymentInitiationFailures.WithLabelValues(string(svcErr.Kind)).Inc()
		log.Error().Err(err).Str("kind", string(svcErr.Kind)).Msg("Payment initiation failed, order left pending")
		return nil, svcErr
	}

	return &CreateOrderResult{
		OrderID:               order.ID,
		MerchantTransactionID: order.MerchantTransactionID,
		RedirectURL:           redirectURL,
	}, nil
}

func (s *OrderService) releaseIdempotencyKey(ctx context.Context, key string) {
	if err := s.idem.Release(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Error().Err(err).Str("idempotency_key", key).Msg("Error releasing idempotency key")
	}
}

// insertWithUniqueTransactionID regenerates the merchant transaction id once on collision.
func (s *OrderService) insertWithUniqueTransactionID(ctx context.Context, order *entity.Order) error {
	for attempt := 0; attempt < 2; attempt++ {
		order.MerchantTransactionID = s.newTxnID()

		err := s.orders.Insert(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateTransaction) {
			s.logger.Error().Err(err).Str("merchant_transaction_id", order.MerchantTransactionID).Msg("Error creating order")
			return newError(KindInternal, "failed to create order", err)
		}
		s.logger.Warn().Str("merchant_transaction_id", order.MerchantTransactionID).Msg("Merchant transaction id collision")
	}
	return newError(KindConflict, "could not allocate a unique transaction id", repository.ErrDuplicateTransaction)
}

// NewTransactionID returns "TXN" followed by the current unix milliseconds
// and eight random base36 characters.
func NewTransactionID() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	var b strings.Builder
	b.WriteString("TXN")
	b.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	for i := 0; i < 8; i++ {
		b.WriteByte(alphabet[rand.Intn(len(alphabet))])
	}
	return b.String()
}

// Outcome is what the browser is told after a gateway signal.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomePending Outcome = "pending"
	// OutcomeRejected means the signal could not be processed at all.
	OutcomeRejected Outcome = "rejected"
)

// RedirectResult is the browser destination for a gateway signal. Kind is set
// when the signal was rejected.
type RedirectResult struct {
	Target  string
	Outcome Outcome
	Kind    Kind
}

func (s *OrderService) failurePage() string {
	return s.opts.FrontendURL + "/shop/payment-failed"
}

func (s *OrderService) returnPage(merchantTransactionID string, status string) string {
	return s.opts.FrontendURL + "/shop/phonepe-return?transactionId=" + url.QueryEscape(merchantTransactionID) +
		"&status=" + url.QueryEscape(status)
}

func (s *OrderService) rejected(kind Kind) RedirectResult {
	return RedirectResult{Target: s.failurePage(), Outcome: OutcomeRejected, Kind: kind}
}

// resultFor builds the redirect from the stored status, never from the signal.
func (s *OrderService) resultFor(order *entity.Order) RedirectResult {
	switch order.PaymentStatus {
	case entity.PaymentPaid:
		return RedirectResult{Target: s.returnPage(order.MerchantTransactionID, "success"), Outcome: OutcomeSuccess}
	case entity.PaymentFailed:
		return RedirectResult{Target: s.returnPage(order.MerchantTransactionID, "failed"), Outcome: OutcomeFailed}
	default:
		return RedirectResult{Target: s.returnPage(order.MerchantTransactionID, "pending"), Outcome: OutcomePending}
	}
}

// HandleGatewayCallback processes a signed server-to-server notification.
// A payload whose checksum does not verify is dropped without touching the store.
func (s *OrderService) HandleGatewayCallback(ctx context.Context, response, checksum string) RedirectResult {
	ctx, span := s.tracer.Start(ctx, "OrderService.HandleGatewayCallback")
	defer span.End()

	if response == "" || checksum == "" || !s.verifier.Verify(response, gateway.CallbackPath, checksum) {
		checksumMismatches.Inc()
		span.SetStatus(codes.Error, "checksum mismatch")

		ev := s.logger.Warn().Str("event", "checksum_mismatch")
		if res, _, err := gateway.DecodeCallback(response); err == nil {
			ev = ev.Str("claimed_merchant_transaction_id", res.Data.MerchantTransactionID)
		}
		ev.Msg("Rejected gateway callback with invalid checksum")
		return s.rejected(KindChecksumMismatch)
	}

	res, raw, err := gateway.DecodeCallback(response)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Malformed gateway callback")
		return s.rejected(KindValidation)
	}
	mtid := res.Data.MerchantTransactionID
	span.SetAttributes(attribute.String("merchant_transaction_id", mtid), attribute.String("code", res.Code))

	if !res.Conclusive() {
		order, err := s.orders.FindByMerchantTransactionID(ctx, mtid)
		if err != nil {
			return s.rejected(s.lookupKind(err, mtid))
		}
		s.logger.Info().Str("merchant_transaction_id", mtid).Str("code", res.Code).Msg("Gateway outcome not final, order left pending")
		return s.resultFor(order)
	}

	status := entity.PaymentFailed
	if res.Paid() {
		status = entity.PaymentPaid
	}

	order, err := s.transition(ctx, mtid, entity.StatusUpdate{
		PaymentStatus:        status,
		GatewayTransactionID: res.Data.TransactionID,
		TransactionDetails:   raw,
	}, "callback")
	if err != nil {
		return s.rejected(KindOf(err))
	}
	return s.resultFor(order)
}

// HandleGatewayRedirect processes the unauthenticated browser return. The
// code carried by the browser is only a hint; the order is finalized from a
// server-side status query.
func (s *OrderService) HandleGatewayRedirect(ctx context.Context, merchantTransactionID, hintCode string) RedirectResult {
	ctx, span := s.tracer.Start(ctx, "OrderService.HandleGatewayRedirect")
	defer span.End()
	span.SetAttributes(attribute.String("merchant_transaction_id", merchantTransactionID))

	if merchantTransactionID == "" {
		return s.rejected(KindValidation)
	}
	log := s.logger.With().
		Str("merchant_transaction_id", merchantTransactionID).
		Str("hint_code", hintCode).
		Logger()

	order, err := s.orders.FindByMerchantTransactionID(ctx, merchantTransactionID)
	if err != nil {
		return s.rejected(s.lookupKind(err, merchantTransactionID))
	}
	if order.PaymentStatus.Terminal() {
		return s.resultFor(order)
	}

	status, err := s.gateway.CheckStatus(ctx, merchantTransactionID)
	if err != nil {
		log.Warn().Err(err).Bool("timeout", gateway.IsTimeout(err)).Msg("Status check inconclusive, order left pending")
		return s.resultFor(order)
	}
	if !status.Conclusive() {
		log.Info().Str("code", status.Code).Bool("gateway_pending", status.Pending()).Msg("Gateway outcome not final, order left pending")
		return s.resultFor(order)
	}

	upd := entity.StatusUpdate{
		PaymentStatus:        entity.PaymentFailed,
		GatewayTransactionID: status.Data.TransactionID,
		TransactionDetails:   marshalDetails(status),
	}
	if status.Paid() {
		upd.PaymentStatus = entity.PaymentPaid
	}
	if hintCode != "" && (hintCode == gateway.CodePaymentSuccess) != status.Paid() {
		log.Warn().Str("code", status.Code).Msg("Browser hint disagrees with gateway status")
	}

	updated, err := s.transition(ctx, merchantTransactionID, upd, "redirect")
	if err != nil {
		return s.rejected(KindOf(err))
	}
	return s.resultFor(updated)
}

// transition applies a terminal status through the store's conditional update.
func (s *OrderService) transition(ctx context.Context, merchantTransactionID string, upd entity.StatusUpdate, source string) (*entity.Order, error) {
	log := s.logger.With().
		Str("merchant_transaction_id", merchantTransactionID).
		Str("source", source).
		Logger()

	order, applied, err := s.orders.UpdateStatus(ctx, merchantTransactionID, upd)
	if errors.Is(err, repository.ErrOrderNotFound) {
		log.Warn().Msg("Gateway signal for unknown order")
		return nil, newError(KindNotFound, "order not found", err)
	}
	if err != nil {
		log.Error().Err(err).Msg("Error updating payment status")
		return nil, newError(KindInternal, "failed to update payment status", err)
	}

	if !applied {
		log.Info().
			Str("stored_status", string(order.PaymentStatus)).
			Str("incoming_status", string(upd.PaymentStatus)).
			Msg("Order already terminal, signal ignored")
		return order, nil
	}

	paymentTransitions.WithLabelValues(string(upd.PaymentStatus), source).Inc()
	log.Info().
		Str("payment_status", string(order.PaymentStatus)).
		Str("gateway_transaction_id", order.GatewayTransactionID).
		Msg("Payment status updated")

	eventType := entity.EventOrderFailed
	if order.PaymentStatus == entity.PaymentPaid {
		eventType = entity.EventOrderPaid
	}
	s.publish(ctx, eventType, order)
	return order, nil
}

func (s *OrderService) lookupKind(err error, merchantTransactionID string) Kind {
	if errors.Is(err, repository.ErrOrderNotFound) {
		s.logger.Warn().Str("merchant_transaction_id", merchantTransactionID).Msg("Gateway signal for unknown order")
		return KindNotFound
	}
	s.logger.Error().Err(err).Str("merchant_transaction_id", merchantTransactionID).Msg("Error loading order")
	return KindInternal
}

// publish is best effort; the order store is the source of truth.
func (s *OrderService) publish(ctx context.Context, t entity.EventType, order *entity.Order) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, entity.NewOrderEvent(t, order)); err != nil {
		s.logger.Error().Err(err).
			Str("merchant_transaction_id", order.MerchantTransactionID).
			Str("event", string(t)).
			Msg("Error publishing order event")
	}
}

func marshalDetails(status *gateway.StatusResult) json.RawMessage {
	raw, err := json.Marshal(status)
	if err != nil {
		return nil
	}
	return raw
}

type Verification struct {
	Success                bool                 `json:"success"`
	TransactionID          string               `json:"transactionId"`
	Status                 entity.PaymentStatus `json:"status"`
	Amount                 float64              `json:"amount"`
	RequiresReconciliation bool                 `json:"requiresReconciliation,omitempty"`
}

// VerifyPayment reports the stored payment status. It never calls the gateway.
func (s *OrderService) VerifyPayment(ctx context.Context, merchantTransactionID string) (*Verification, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.VerifyPayment")
	defer span.End()

	if merchantTransactionID == "" {
		return nil, validationError("transactionId is required", map[string]string{"transactionId": "transactionId is required"})
	}

	order, err := s.orders.FindByMerchantTransactionID(ctx, merchantTransactionID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, newError(KindNotFound, "order not found", err)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("merchant_transaction_id", merchantTransactionID).Msg("Error loading order")
		return nil, newError(KindInternal, "failed to verify payment", err)
	}

	return &Verification{
		Success:                order.PaymentStatus == entity.PaymentPaid,
		TransactionID:          order.MerchantTransactionID,
		Status:                 order.PaymentStatus,
		Amount:                 order.TotalAmount,
		RequiresReconciliation: s.overdue(order),
	}, nil
}

func (s *OrderService) overdue(order *entity.Order) bool {
	return order.PaymentStatus == entity.PaymentPending && s.now().Sub(order.OrderDate) > s.opts.PendingExpiry
}

func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]*entity.Order, error) {
	if userID == "" {
		return nil, validationError("userId is required", map[string]string{"userId": "userId is required"})
	}
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Error listing orders")
		return nil, newError(KindInternal, "failed to list orders", err)
	}
	if orders == nil {
		orders = []*entity.Order{}
	}
	return orders, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	if id == "" {
		return nil, validationError("id is required", map[string]string{"id": "id is required"})
	}
	order, err := s.orders.FindByID(ctx, id)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, newError(KindNotFound, "order not found", err)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", id).Msg("Error loading order")
		return nil, newError(KindInternal, "failed to load order", err)
	}
	return order, nil
}

func (s *OrderService) GetCart(ctx context.Context, userID string) (*entity.Cart, error) {
	if s.carts == nil {
		return nil, newError(KindNotFound, "cart not found", nil)
	}
	cart, err := s.carts.Get(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return &entity.Cart{UserID: userID, Items: []entity.OrderItem{}}, nil
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Error loading cart")
		return nil, newError(KindInternal, "failed to load cart", err)
	}
	return cart, nil
}

func (s *OrderService) SaveCart(ctx context.Context, cart *entity.Cart) error {
	if s.carts == nil {
		return newError(KindInternal, "cart storage is not configured", nil)
	}
	if cart.UserID == "" {
		return validationError("userId is required", map[string]string{"userId": "userId is required"})
	}
	for i := range cart.Items {
		if err := s.validator.Struct(&cart.Items[i]); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				return validationError(fmt.Sprintf("invalid cart item %d", i), formatValidationErrors(verrs))
			}
			return newError(KindInternal, "validation failed", err)
		}
	}
	if err := s.carts.Save(ctx, cart); err != nil {
		s.logger.Error().Err(err).Str("user_id", cart.UserID).Msg("Error saving cart")
		return newError(KindInternal, "failed to save cart", err)
	}
	return nil
}

// ClearCart empties the cart of a user whose cart checkout has been paid.
func (s *OrderService) ClearCart(ctx context.Context, userID string) error {
	if s.carts == nil {
		return nil
	}
	return s.carts.Clear(ctx, userID)
}
