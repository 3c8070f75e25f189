package service

import (
	"context"
	"time"

	"checkout-service/internal/entity"
	"checkout-service/internal/gateway"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

type ReconcileSummary struct {
	Checked    int `json:"checked"`
	Paid       int `json:"paid"`
	Failed     int `json:"failed"`
	Unresolved int `json:"unresolved"`
}

// ReconcilePending queries the gateway for orders that have been pending
// longer than the expiry window. Orders without a definitive answer are left
// pending and flagged for manual reconciliation.
func (s *OrderService) ReconcilePending(ctx context.Context) (ReconcileSummary, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ReconcilePending")
	defer span.End()

	var summary ReconcileSummary

	cutoff := s.now().UTC().Add(-s.opts.PendingExpiry)
	orders, err := s.orders.ListPendingBefore(ctx, cutoff, s.opts.ReconcileBatchSize)
	if err != nil {
		span.RecordError(err)
		return summary, newError(KindInternal, "failed to list pending orders", err)
	}
	span.SetAttributes(attribute.Int("count", len(orders)))

	for _, order := range orders {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++

		switch s.reconcileOne(ctx, order) {
		case entity.PaymentPaid:
			summary.Paid++
		case entity.PaymentFailed:
			summary.Failed++
		default:
			summary.Unresolved++
		}
	}

	if summary.Checked > 0 {
		s.logger.Info().
			Int("checked", summary.Checked).
			Int("paid", summary.Paid).
			Int("failed", summary.Failed).
			Int("unresolved", summary.Unresolved).
			Msg("Reconciliation batch finished")
	}
	return summary, nil
}

func (s *OrderService) reconcileOne(ctx context.Context, order *entity.Order) entity.PaymentStatus {
	log := s.logger.With().
		Str("merchant_transaction_id", order.MerchantTransactionID).
		Time("order_date", order.OrderDate).
		Logger()

	status, err := s.gateway.CheckStatus(ctx, order.MerchantTransactionID)
	if err != nil {
		reconcileOutcomes.WithLabelValues("inconclusive").Inc()
		log.Warn().Err(err).Bool("timeout", gateway.IsTimeout(err)).Msg("Order requires manual reconciliation")
		return entity.PaymentPending
	}
	if !status.Conclusive() {
		outcome := "inconclusive"
		if status.Pending() {
			outcome = "pending"
		}
		reconcileOutcomes.WithLabelValues(outcome).Inc()
		log.Warn().Str("code", status.Code).Msg("Order requires manual reconciliation")
		return entity.PaymentPending
	}

	upd := entity.StatusUpdate{
		PaymentStatus:        entity.PaymentFailed,
		GatewayTransactionID: status.Data.TransactionID,
		TransactionDetails:   marshalDetails(status),
	}
	if status.Paid() {
		upd.PaymentStatus = entity.PaymentPaid
	}

	updated, err := s.transition(ctx, order.MerchantTransactionID, upd, "reconciler")
	if err != nil {
		reconcileOutcomes.WithLabelValues("error").Inc()
		return entity.PaymentPending
	}
	reconcileOutcomes.WithLabelValues(string(updated.PaymentStatus)).Inc()
	return updated.PaymentStatus
}

type PendingReconciler interface {
	ReconcilePending(ctx context.Context) (ReconcileSummary, error)
}

// Reconciler runs ReconcilePending on a fixed interval until its context ends.
type Reconciler struct {
	svc      PendingReconciler
	interval time.Duration
	logger   zerolog.Logger
}

func NewReconciler(svc PendingReconciler, interval time.Duration, logger zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{svc: svc, interval: interval, logger: logger}
}

func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info().Dur("interval", r.interval).Msg("Starting payment reconciler")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Payment reconciler stopping")
			return
		case <-ticker.C:
			if _, err := r.svc.ReconcilePending(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("Error reconciling pending orders")
			}
		}
	}
}
