package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created with stock reserved",
	})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders confirmed as paid",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed orders",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrdersRefundedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_refunded_total",
		Help: "Total number of refunded orders",
	})

	StockReservationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_reservations_failed_total",
		Help: "Total number of order creations rejected for insufficient stock",
	})

	VoucherRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voucher_rejections_total",
		Help: "Total number of voucher evaluations rejected",
	}, []string{"reason"})

	CallbackSignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callback_signature_failures_total",
		Help: "Total number of gateway callbacks rejected for bad signatures",
	})

	ExpiredOrdersSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expired_orders_swept_total",
		Help: "Total number of pending orders expired by the background sweep",
	})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of outbound payment gateway requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total number of outbound payment gateway requests",
	}, []string{"operation", "outcome"})

	NotificationsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_written_total",
		Help: "Total number of user notifications recorded",
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
