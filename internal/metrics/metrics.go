package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay server metrics
var (
	// Vendor API metrics
	VendorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_vendor_requests_total",
			Help: "Total number of vendor API requests",
		},
		[]string{"vendor", "operation", "status"},
	)

	VendorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handoff_vendor_request_duration_seconds",
			Help:    "Vendor API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s (long-poll)
		},
		[]string{"vendor", "operation"},
	)

	// Relay metrics
	ActiveStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "handoff_active_streams",
			Help: "Number of open SSE relay streams",
		},
		[]string{"vendor"},
	)

	RelayedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_relayed_events_total",
			Help: "Total number of events written to SSE streams",
		},
		[]string{"vendor"},
	)

	DroppedPayloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_dropped_payloads_total",
			Help: "Published payloads skipped because they could not be decoded",
		},
		[]string{"vendor"},
	)

	// Session metrics
	SessionsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_sessions_started_total",
			Help: "Total number of handoff conversations initialized",
		},
		[]string{"vendor", "status"},
	)

	AvailabilityChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_availability_checks_total",
			Help: "Total number of availability checks by result",
		},
		[]string{"vendor", "result"}, // result: available/unavailable/failopen
	)

	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_webhooks_total",
			Help: "Total number of vendor webhook deliveries",
		},
		[]string{"vendor", "status"},
	)
)

// ObserveVendorCall records one vendor API round trip. A zero status means
// the request failed before a response arrived.
func ObserveVendorCall(vendor, operation string, status int, started time.Time) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	VendorRequestsTotal.WithLabelValues(vendor, operation, label).Inc()
	VendorRequestDuration.WithLabelValues(vendor, operation).Observe(time.Since(started).Seconds())
}
