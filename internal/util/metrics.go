package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_received_total",
		Help: "Total number of inbound chat messages accepted for processing",
	}, []string{"platform"})

	DuplicateDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_duplicate_deliveries_total",
		Help: "Total number of webhook deliveries dropped as duplicates",
	})

	MessagesByIntentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_by_intent_total",
		Help: "Total number of classified messages by intent",
	}, []string{"intent"})

	ClassificationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classification_failures_total",
		Help: "Total number of messages the classifier could not process",
	})

	ClassifierLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "classifier_latency_seconds",
		Help:    "Latency of intent classification calls",
		Buckets: prometheus.DefBuckets,
	})

	ValidationRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_validation_rejections_total",
		Help: "Total number of lifecycle requests rejected without a state change",
	}, []string{"reason"})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_confirmed_total",
		Help: "Total number of confirmed orders",
	}, []string{"calendar_synced"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrdersCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_completed_total",
		Help: "Total number of completed orders",
	})

	CalendarSyncFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_sync_failures_total",
		Help: "Total number of failed calendar adapter calls",
	}, []string{"operation"})

	CalendarLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calendar_latency_seconds",
		Help:    "Latency of calendar adapter calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	NotifierFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_failures_total",
		Help: "Total number of chat replies that could not be delivered",
	})

	LockWaitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "customer_lock_wait_seconds",
		Help:    "Time spent waiting for the per-customer lock",
		Buckets: prometheus.DefBuckets,
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
