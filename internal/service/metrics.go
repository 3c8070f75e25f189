package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_orders_created_total",
		Help: "Orders persisted in pending state.",
	})

	paymentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payment_transitions_total",
		Help: "Terminal payment transitions applied, by status and source.",
	}, []string{"status", "source"})

	checksumMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_checksum_mismatch_total",
		Help: "Gateway callbacks rejected for an invalid checksum.",
	})

	paymentInitiationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payment_initiation_failures_total",
		Help: "Payment session creation failures, by kind.",
	}, []string{"kind"})

	reconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_reconcile_outcomes_total",
		Help: "Pending orders examined by the reconciler, by outcome.",
	}, []string{"outcome"})
)
