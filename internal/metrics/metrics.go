package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cattube",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cattube",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	// GatewayErrorsTotal counts failed calls to the transcoder and the video
	// index, separately from records that are merely still pending.
	GatewayErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cattube",
			Name:      "gateway_errors_total",
			Help:      "Failed calls to external gateways",
		},
		[]string{"gateway", "operation"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cattube",
			Name:      "gateway_duration_seconds",
			Help:      "External gateway call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 15},
		},
		[]string{"gateway", "operation"},
	)

	// StatusTransitionsTotal counts status changes written by the coordinator.
	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cattube",
			Subsystem: "ingest",
			Name:      "status_transitions_total",
			Help:      "Video status changes persisted by the ingest coordinator",
		},
		[]string{"status"},
	)

	PollStragglersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cattube",
			Subsystem: "ingest",
			Name:      "poll_stragglers_total",
			Help:      "Videos marked Error after exceeding the maximum poll duration",
		},
	)

	VersionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cattube",
			Subsystem: "ingest",
			Name:      "version_conflicts_total",
			Help:      "Video writes skipped because the row changed concurrently",
		},
	)

	ActiveBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cattube",
			Subsystem: "ingest",
			Name:      "active_batches",
			Help:      "Background ingest batches currently running",
		},
	)

	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cattube",
			Subsystem: "webhook",
			Name:      "notifications_total",
			Help:      "Inbound transcoder notifications by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordRequest records an HTTP request.
func RecordRequest(method, route, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, route, status).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(durationSec)
}

// RecordGatewayCall records one gateway round trip.
func RecordGatewayCall(gateway, operation string, durationSec float64, err error) {
	GatewayDuration.WithLabelValues(gateway, operation).Observe(durationSec)
	if err != nil {
		GatewayErrorsTotal.WithLabelValues(gateway, operation).Inc()
	}
}

// RecordTransition records a persisted status change.
func RecordTransition(status string) {
	if status == "" {
		status = "new"
	}
	StatusTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordWebhook records the outcome of an inbound notification.
func RecordWebhook(outcome string) {
	WebhooksTotal.WithLabelValues(outcome).Inc()
}
