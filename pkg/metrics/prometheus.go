package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantway_events_claimed_total",
			Help: "Total number of queued events claimed by an engine",
		},
		[]string{"queue"},
	)

	EventsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantway_events_completed_total",
			Help: "Total number of queued events completed",
		},
		[]string{"queue"},
	)

	EventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantway_events_failed_total",
			Help: "Total number of queued events that failed an attempt",
		},
		[]string{"queue"},
	)

	EventsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantway_events_dead_lettered_total",
			Help: "Total number of queued events promoted to dead letter",
		},
		[]string{"queue"},
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grantway_handler_duration_seconds",
			Help:    "Inbox handler execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"type"},
	)

	LeasesAcquired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grantway_leases_acquired_total",
			Help: "Total number of segregation-key leases acquired",
		},
	)

	LeasesReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grantway_leases_reaped_total",
			Help: "Total number of stale segregation-key leases force-released",
		},
	)
)
