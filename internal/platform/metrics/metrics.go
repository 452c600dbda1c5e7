// Package metrics defines the Prometheus metrics exposed by every binary,
// generalized from the teacher's per-service HTTP/gRPC metric sets into one
// registry covering the components this system actually has.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP contains HTTP-layer metrics for cmd/api.
type HTTP struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewHTTP creates HTTP metrics for a service.
func NewHTTP(serviceName string) *HTTP {
	return &HTTP{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Observe records one completed HTTP request.
func (m *HTTP) Observe(method, route, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Business contains the order-orchestration-specific counters named
// throughout spec.md §4 and §8.
type Business struct {
	WebhooksReceived      *prometheus.CounterVec
	WebhooksDeadLettered  prometheus.Counter
	OrdersAdmitted        *prometheus.CounterVec
	LedgerPostings        *prometheus.CounterVec
	VendorSelections      *prometheus.CounterVec
	VendorAssignTimeouts  prometheus.Counter
	WorkflowStepDuration  *prometheus.HistogramVec
	NotificationsSent     *prometheus.CounterVec
	RecoveryCycleDuration prometheus.Histogram
}

// NewBusiness creates the business metric set for a service.
func NewBusiness(serviceName string) *Business {
	return &Business{
		WebhooksReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_webhooks_received_total",
				Help: "Total inbound webhooks recorded by the event store",
			},
			[]string{"channel"},
		),
		WebhooksDeadLettered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_webhooks_dead_lettered_total",
				Help: "Webhooks that exhausted MAX_ATTEMPTS",
			},
		),
		OrdersAdmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_orders_admission_total",
				Help: "Admission decisions by outcome",
			},
			[]string{"decision"},
		),
		LedgerPostings: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_ledger_postings_total",
				Help: "Credit ledger entries posted by type",
			},
			[]string{"type"},
		),
		VendorSelections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_vendor_selections_total",
				Help: "Vendor selection outcomes",
			},
			[]string{"outcome"},
		),
		VendorAssignTimeouts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_vendor_assign_timeouts_total",
				Help: "Vendor assignment retries that expired before a response",
			},
		),
		WorkflowStepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_workflow_step_duration_seconds",
				Help:    "Duration of individual workflow steps",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow_type", "step"},
		),
		NotificationsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_notifications_sent_total",
				Help: "Notifications submitted to the messaging gateway",
			},
			[]string{"template", "outcome"},
		),
		RecoveryCycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    serviceName + "_recovery_cycle_duration_seconds",
				Help:    "Duration of one recovery worker cycle",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}
