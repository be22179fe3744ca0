package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of pending orders created",
	})

	OrdersReusedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_reused_total",
		Help: "Total number of checkout attempts that reused a recent pending order",
	})

	OrdersPaidTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders marked paid",
	}, []string{"trigger"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of orders marked failed",
	}, []string{"reason"})

	OrdersSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_swept_total",
		Help: "Total number of stale pending orders failed by the checkout sweep",
	})

	EntitlementsGrantedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entitlements_granted_total",
		Help: "Total number of access entitlements created",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of webhook events received",
	}, []string{"type", "outcome"})

	WebhookProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_processing_latency_seconds",
		Help:    "Latency of webhook reconciliation",
		Buckets: prometheus.DefBuckets,
	})

	CheckoutSessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_created_total",
		Help: "Total number of gateway checkout sessions created",
	})

	GatewayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Total number of payment gateway errors",
	}, []string{"operation"})

	CartPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_items_pruned_total",
		Help: "Total number of stale cart entries pruned on read",
	})

	AccessCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_cache_requests_total",
		Help: "Access decision cache lookups",
	}, []string{"result"})

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
