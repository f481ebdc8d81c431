package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_orders_created_total",
		Help: "Total number of orders created, by initial payment status",
	}, []string{"payment_status"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_orders_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	OrdersVoidedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_orders_voided_total",
		Help: "Total number of voided orders, by actor role",
	}, []string{"role"})

	OrdersRefundedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_orders_refunded_total",
		Help: "Total number of refunds, by kind",
	}, []string{"kind"})

	ReversalsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_reversals_rejected_total",
		Help: "Total number of rejected void/refund requests",
	}, []string{"operation", "reason"})

	StockMovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_stock_movements_total",
		Help: "Total number of stock ledger entries written",
	}, []string{"type", "reference_type"})

	StockMovementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_stock_movement_latency_seconds",
		Help:    "Latency of a single stock movement write",
		Buckets: prometheus.DefBuckets,
	})

	StockCompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_stock_compensations_total",
		Help: "Compensating stock writes issued after a failed checkout",
	}, []string{"result"})

	StockUnreconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_stock_unreconciled_total",
		Help: "Orders left with stock needing manual reconciliation",
	}, []string{"operation"})

	LowStockIngredients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pos_low_stock_ingredients",
		Help: "Number of ingredients currently flagged at or below minimum stock",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
