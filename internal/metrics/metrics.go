package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ApplicationsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_applications_submitted_total",
			Help: "Application submissions by outcome.",
		},
		[]string{"outcome"},
	)

	ApplicationReviewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_application_reviews_total",
			Help: "Application status changes by new status and source.",
		},
		[]string{"status", "source"},
	)

	OutboxDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_outbox_deliveries_total",
			Help: "Outbox delivery attempts by sink and result.",
		},
		[]string{"sink", "result"},
	)

	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_outbox_pending",
			Help: "Outbox events not yet delivered or failed.",
		},
	)

	CensusCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_census_cache_total",
			Help: "Census cache lookups by result.",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

// MustRegister registers every collector with the default registry. Safe to
// call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			ApplicationsSubmittedTotal,
			ApplicationReviewsTotal,
			OutboxDeliveriesTotal,
			OutboxPending,
			CensusCacheTotal,
		)
	})
}
