// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the service records into.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	Meetings            *prometheus.CounterVec
	Compensations       prometheus.Counter
	Reschedules         *prometheus.CounterVec
	CreditDebits        *prometheus.CounterVec
	Tasks               *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of http request",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		Meetings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_meetings_total",
				Help: "Meeting lifecycle operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		Compensations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scheduler_compensations_total",
				Help: "Meetings deleted because participant seeding failed",
			},
		),
		Reschedules: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_reschedules_total",
				Help: "Reschedule negotiation outcomes",
			},
			[]string{"outcome"},
		),
		CreditDebits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_credit_debits_total",
				Help: "Credit debits by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		Tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_tasks_total",
				Help: "Outbox task deliveries by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_month_cache_lookups_total",
				Help: "Month cache lookups by result",
			},
			[]string{"result"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HTTPRequests,
			m.HTTPRequestDuration,
			m.Meetings,
			m.Compensations,
			m.Reschedules,
			m.CreditDebits,
			m.Tasks,
			m.CacheLookups,
		)
	}
	return m
}

// MeetingOperation counts a meeting operation outcome.
func (m *Metrics) MeetingOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.Meetings.WithLabelValues(operation, outcome).Inc()
}

// Compensation counts a compensating meeting delete.
func (m *Metrics) Compensation() {
	if m == nil {
		return
	}
	m.Compensations.Inc()
}

// RescheduleOutcome counts a negotiation step.
func (m *Metrics) RescheduleOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Reschedules.WithLabelValues(outcome).Inc()
}

// CreditDebit counts a debit attempt.
func (m *Metrics) CreditDebit(kind, outcome string) {
	if m == nil {
		return
	}
	m.CreditDebits.WithLabelValues(kind, outcome).Inc()
}

// TaskDelivery counts an outbox delivery attempt.
func (m *Metrics) TaskDelivery(kind, outcome string) {
	if m == nil {
		return
	}
	m.Tasks.WithLabelValues(kind, outcome).Inc()
}

// CacheLookup counts a month cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// HTTPRequest records one served request. path should be a route template so
// label cardinality stays bounded.
func (m *Metrics) HTTPRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.HTTPRequests.WithLabelValues(method, path, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
}
