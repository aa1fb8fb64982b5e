package activitypub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveriesTotal counts outbound inbox POSTs by activity type and outcome.
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rabble_deliveries_total",
		Help: "Total number of outbound activity deliveries",
	}, []string{"type", "outcome"})

	// DeliveryDuration records how long a single inbox POST took.
	DeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rabble_delivery_duration_seconds",
		Help:    "Outbound delivery latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// InboxActivities counts received activities by type and result.
	InboxActivities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rabble_inbox_activities_total",
		Help: "Total number of received activities by type and result",
	}, []string{"type", "result"})

	// FanoutHosts observes how many distinct hosts one fan-out reached.
	FanoutHosts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rabble_fanout_hosts",
		Help:    "Distinct foreign hosts addressed per fan-out",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})

	// DetachedTaskFailures counts failed best-effort background tasks.
	DetachedTaskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rabble_detached_task_failures_total",
		Help: "Failed best-effort background tasks by name",
	}, []string{"task"})
)
