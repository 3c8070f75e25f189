// Package gateway is the outbound integration with the PhonePe payment gateway.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	PayPath      = "/pg/v1/pay"
	StatusPath   = "/pg/v1/status"
	CallbackPath = "/pg/v1/callback"
)

const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

var baseURLs = map[string]string{
	EnvSandbox:    "https://api-preprod.phonepe.com/apis/pg-sandbox",
	EnvProduction: "https://api.phonepe.com/apis/hermes",
}

// BaseURL returns the API root for a deployment environment.
func BaseURL(env string) (string, error) {
	u, ok := baseURLs[env]
	if !ok {
		return "", fmt.Errorf("unknown phonepe environment %q", env)
	}
	return u, nil
}

type Config struct {
	MerchantID  string
	Environment string
	// BaseURL overrides the environment's API root when set.
	BaseURL string
	Timeout time.Duration
}

type Signer interface {
	Compute(payload, endpointPath string) string
}

type PhonePe struct {
	merchantID string
	client     *resty.Client
	signer     Signer
	cb         *gobreaker.CircuitBreaker
	logger     zerolog.Logger
	tracer     trace.Tracer
}

func NewPhonePe(cfg Config, signer Signer, logger zerolog.Logger) (*PhonePe, error) {
	base := cfg.BaseURL
	if base == "" {
		var err error
		if base, err = BaseURL(cfg.Environment); err != nil {
			return nil, err
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	logger = logger.With().Str("component", "phonepe").Logger()

	settings := gobreaker.Settings{
		Name:        "PhonePe",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// Rejections by the gateway say nothing about its health.
		IsSuccessful: func(err error) bool {
			var gwErr *Error
			if errors.As(err, &gwErr) {
				return gwErr.StatusCode >= 400 && gwErr.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("name", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}

	return &PhonePe{
		merchantID: cfg.MerchantID,
		client:     client,
		signer:     signer,
		cb:         gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
		tracer:     otel.Tracer("gateway/phonepe"),
	}, nil
}

// InitiatePayment opens a hosted payment page session and returns its URL.
func (p *PhonePe) InitiatePayment(ctx context.Context, req PayRequest) (string, error) {
	ctx, span := p.tracer.Start(ctx, "PhonePe.InitiatePayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("merchant_transaction_id", req.MerchantTransactionID),
		attribute.Int64("amount", req.AmountMinorUnits),
	)

	payload, err := json.Marshal(payPayload{
		MerchantID:            p.merchantID,
		MerchantTransactionID: req.MerchantTransactionID,
		MerchantUserID:        req.MerchantUserID,
		Amount:                req.AmountMinorUnits,
		RedirectURL:           req.RedirectURL,
		RedirectMode:          http.MethodPost,
		CallbackURL:           req.CallbackURL,
		MobileNumber:          req.MobileNumber,
		PaymentInstrument:     paymentInstrument{Type: "PAY_PAGE"},
	})
	if err != nil {
		return "", &Error{Op: "pay", Err: err}
	}
	encoded := base64.StdEncoding.EncodeToString(payload)

	body, err := p.do("pay", func() (*resty.Response, error) {
		return p.client.R().
			SetContext(ctx).
			SetHeader("X-VERIFY", p.signer.Compute(encoded, PayPath)).
			SetHeader("X-MERCHANT-ID", p.merchantID).
			SetBody(map[string]string{"request": encoded}).
			Post(PayPath)
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	var out payResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &Error{Op: "pay", Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	url := out.Data.InstrumentResponse.RedirectInfo.URL
	if !out.Success || url == "" {
		return "", &Error{Op: "pay", Code: out.Code, Err: ErrMalformedResponse}
	}

	p.logger.Info().
		Str("merchant_transaction_id", req.MerchantTransactionID).
		Msg("Payment session created")

	return url, nil
}

// CheckStatus queries the gateway for the current state of a transaction.
func (p *PhonePe) CheckStatus(ctx context.Context, merchantTransactionID string) (*StatusResult, error) {
	ctx, span := p.tracer.Start(ctx, "PhonePe.CheckStatus")
	defer span.End()
	span.SetAttributes(attribute.String("merchant_transaction_id", merchantTransactionID))

	path := fmt.Sprintf("%s/%s/%s", StatusPath, p.merchantID, merchantTransactionID)

	body, err := p.do("status", func() (*resty.Response, error) {
		return p.client.R().
			SetContext(ctx).
			SetHeader("X-VERIFY", p.signer.Compute("", path)).
			SetHeader("X-MERCHANT-ID", p.merchantID).
			Get(path)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var out StatusResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Op: "status", Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if out.Code == "" {
		return nil, &Error{Op: "status", Err: ErrMalformedResponse}
	}
	return &out, nil
}

// do runs one HTTP exchange through the circuit breaker and returns the body of a 2xx response.
func (p *PhonePe) do(op string, call func() (*resty.Response, error)) ([]byte, error) {
	res, err := p.cb.Execute(func() (interface{}, error) {
		resp, err := call()
		if err != nil {
			return nil, transportError(op, err)
		}
		if resp.IsError() {
			gwErr := &Error{Op: op, StatusCode: resp.StatusCode()}
			var body struct {
				Code string `json:"code"`
			}
			if json.Unmarshal(resp.Body(), &body) == nil {
				gwErr.Code = body.Code
			}
			return nil, gwErr
		}
		return resp.Body(), nil
	})
	if err != nil {
		var gwErr *Error
		if !errors.As(err, &gwErr) {
			// breaker open or too many half-open requests
			gwErr = &Error{Op: op, Err: err}
		}
		p.logger.Error().Err(err).Str("op", op).Msg("PhonePe call failed")
		return nil, gwErr
	}
	return res.([]byte), nil
}
