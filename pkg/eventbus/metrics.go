package eventbus

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_bus_events_published_total",
			Help: "Total number of events published",
		},
		[]string{"type"},
	)

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_bus_deliveries_total",
			Help: "Total number of subscription deliveries by outcome",
		},
		[]string{"destination", "result"},
	)

	retryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_bus_retry_attempts_total",
			Help: "Total number of failed-event retry attempts by outcome",
		},
		[]string{"result"},
	)

	failedDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_bus_failed_events_dropped_total",
			Help: "Total number of failed events dropped by reason",
		},
		[]string{"reason"},
	)

	failedBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcore_bus_failed_events",
			Help: "Current number of failed events awaiting retry",
		},
	)

	subscriptionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcore_bus_subscriptions",
			Help: "Current number of registered subscriptions",
		},
	)

	directNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_bus_direct_notifications_total",
			Help: "Total number of direct notifications by outcome",
		},
		[]string{"result"},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_bus_requests_total",
			Help: "Total number of request/response exchanges by outcome",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		eventsPublished,
		deliveries,
		retryAttempts,
		failedDropped,
		failedBacklog,
		subscriptionsGauge,
		directNotifications,
		requestsTotal,
	)
}
