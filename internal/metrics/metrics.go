// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts admin API requests by method, route and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "blazehooks_http_requests_total", Help: "Admin API requests."},
		[]string{"method", "route", "status"},
	)
	// HTTPDuration records admin API request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "blazehooks_http_request_duration_seconds", Help: "Admin API request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route"},
	)

	// DeliveryAttempts counts attempts by event type and resulting attempt status.
	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "blazehooks_delivery_attempts_total", Help: "Webhook delivery attempts by event type and status."},
		[]string{"event_type", "status"},
	)
	// DeliveryLatency tracks attempt latency in milliseconds.
	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "blazehooks_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000}},
		[]string{"event_type", "status"},
	)
	// DeliveriesPublished counts jobs created by the dispatcher.
	DeliveriesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "blazehooks_deliveries_published_total", Help: "Logical deliveries enqueued by event type."},
		[]string{"event_type"},
	)
	// AutoDisabled counts endpoints switched off by the failure-rate policy.
	AutoDisabled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "blazehooks_webhooks_auto_disabled_total", Help: "Endpoints disabled by the failure-rate policy."},
	)
	// QueueDepth is the number of queued or running delivery jobs.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "blazehooks_queue_depth", Help: "Delivery jobs queued or running."},
	)
)

var regOnce sync.Once

// RegisterDefault registers collectors to Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(DeliveryAttempts)
		Registry.MustRegister(DeliveryLatency)
		Registry.MustRegister(DeliveriesPublished)
		Registry.MustRegister(AutoDisabled)
		Registry.MustRegister(QueueDepth)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// ObserveAttempt records one delivery attempt.
func ObserveAttempt(eventType, status string, latency time.Duration) {
	DeliveryAttempts.WithLabelValues(eventType, status).Inc()
	DeliveryLatency.WithLabelValues(eventType, status).Observe(float64(latency.Milliseconds()))
}

// ObserveRequest records one admin API request.
func ObserveRequest(method, route string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
