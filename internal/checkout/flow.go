// Package checkout drives a checkout from the buyer's side: create the
// order, hand the payment page to a Navigator, then verify the outcome.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"checkout-service/internal/entity"
	"checkout-service/internal/service"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

type State string

const (
	StateIdle        State = "idle"
	StateCreating    State = "creating"
	StateRedirecting State = "redirecting"
	StateVerifying   State = "verifying"
	StateSuccess     State = "success"
	StateFailed      State = "failed"
)

const DefaultVerifyTimeout = 15 * time.Second

var ErrBusy = errors.New("checkout: a request is already in flight")

// Navigator sends the buyer to the payment page. Control does not come back
// to the flow until Complete is called with the returned transaction id.
type Navigator interface {
	Navigate(paymentURL string) error
}

type Status struct {
	State         State  `json:"state"`
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message,omitempty"`
	// Inconclusive is set when the outcome is unknown rather than failed.
	Inconclusive bool `json:"inconclusive,omitempty"`
}

type Flow struct {
	client        *resty.Client
	nav           Navigator
	verifyTimeout time.Duration
	logger        zerolog.Logger

	mu     sync.Mutex
	status Status
}

type Option func(*Flow)

func WithVerifyTimeout(d time.Duration) Option {
	return func(f *Flow) { f.verifyTimeout = d }
}

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(f *Flow) {
		if token != "" {
			f.client.SetAuthToken(token)
		}
	}
}

func NewFlow(baseURL string, nav Navigator, logger zerolog.Logger, opts ...Option) *Flow {
	f := &Flow{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Accept", "application/json"),
		nav:           nav,
		verifyTimeout: DefaultVerifyTimeout,
		logger:        logger.With().Str("component", "checkout-flow").Logger(),
		status:        Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Flow) Inconclusive() bool {
	return f.Status().Inconclusive
}

// Reset returns the flow to idle for a fresh attempt.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = Status{State: StateIdle}
}

// begin moves into a busy state unless a request is already in flight.
func (f *Flow) begin(next State, allowed ...State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range allowed {
		if f.status.State == s {
			f.status = Status{State: next, TransactionID: f.status.TransactionID}
			return nil
		}
	}
	if f.status.State == StateCreating || f.status.State == StateVerifying {
		return ErrBusy
	}
	return fmt.Errorf("checkout: cannot move from %s to %s", f.status.State, next)
}

func (f *Flow) set(s Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func (f *Flow) fail(transactionID, msg string, inconclusive bool) {
	f.set(Status{State: StateFailed, TransactionID: transactionID, Message: msg, Inconclusive: inconclusive})
}

type apiError struct {
	Success bool `json:"success"`
	Error   struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *apiError) message(fallback string) string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return fallback
}

type createResponse struct {
	Success       bool   `json:"success"`
	PaymentURL    string `json:"paymentUrl"`
	TransactionID string `json:"transactionId"`
	OrderID       string `json:"orderId"`
}

// Start creates the order and navigates to the payment page. It returns the
// merchant transaction id the buyer will come back with.
func (f *Flow) Start(ctx context.Context, req service.CreateOrderRequest) (string, error) {
	if err := f.begin(StateCreating, StateIdle); err != nil {
		return "", err
	}

	var out createResponse
	var apiErr apiError
	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/shop/order/create")
	if err != nil {
		f.logger.Error().Err(err).Msg("Create order request failed")
		f.fail("", "could not reach the checkout service", false)
		return "", err
	}
	if resp.IsError() || !out.Success || out.PaymentURL == "" {
		msg := apiErr.message("order creation failed")
		f.logger.Warn().Int("status", resp.StatusCode()).Str("kind", apiErr.Error.Kind).Msg("Order creation rejected")
		f.fail("", msg, false)
		return "", fmt.Errorf("checkout: %s", msg)
	}

	f.set(Status{State: StateRedirecting, TransactionID: out.TransactionID})
	f.logger.Info().Str("merchant_transaction_id", out.TransactionID).Msg("Redirecting to payment page")

	if err := f.nav.Navigate(out.PaymentURL); err != nil {
		f.fail(out.TransactionID, "could not open the payment page", false)
		return out.TransactionID, err
	}
	return out.TransactionID, nil
}

type verifyResponse struct {
	Success bool `json:"success"`
	Data    struct {
		TransactionID          string               `json:"transactionId"`
		Status                 entity.PaymentStatus `json:"status"`
		Amount                 float64              `json:"amount"`
		RequiresReconciliation bool                 `json:"requiresReconciliation"`
	} `json:"data"`
}

// Complete verifies the payment for transactionID once the buyer is back.
func (f *Flow) Complete(ctx context.Context, transactionID string) (Status, error) {
	if transactionID == "" {
		f.fail("", "missing transaction id", false)
		return f.Status(), errors.New("checkout: missing transaction id")
	}
	if err := f.begin(StateVerifying, StateIdle, StateRedirecting); err != nil {
		return f.Status(), err
	}

	ctx, cancel := context.WithTimeout(ctx, f.verifyTimeout)
	defer cancel()

	var out verifyResponse
	var apiErr apiError
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("transactionId", transactionID).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/shop/order/verify-payment")
	if err != nil {
		if isTimeout(err) {
			f.fail(transactionID, "payment verification timed out, check your orders later", true)
		} else {
			f.fail(transactionID, "could not reach the checkout service", false)
		}
		f.logger.Warn().Err(err).Str("merchant_transaction_id", transactionID).Msg("Payment verification failed")
		return f.Status(), err
	}
	if resp.IsError() {
		f.fail(transactionID, apiErr.message("payment verification failed"), false)
		return f.Status(), fmt.Errorf("checkout: verify payment: http %d", resp.StatusCode())
	}

	switch out.Data.Status {
	case entity.PaymentPaid:
		f.set(Status{State: StateSuccess, TransactionID: transactionID})
	case entity.PaymentPending:
		f.fail(transactionID, "payment is still being confirmed", true)
	default:
		f.fail(transactionID, "payment failed", false)
	}
	return f.Status(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
