package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	errorsReported = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_monitor_errors_total",
			Help: "Total number of reported agent errors",
		},
		[]string{"kind", "severity"},
	)

	alertsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_monitor_alerts_total",
			Help: "Total number of triggered alerts",
		},
		[]string{"rule", "severity"},
	)

	activeAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcore_monitor_active_alerts",
			Help: "Current number of unresolved alerts",
		},
	)

	errorRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcore_monitor_error_rate",
			Help: "Errors observed in the trailing minute",
		},
	)
)

func init() {
	prometheus.MustRegister(
		errorsReported,
		alertsTriggered,
		activeAlerts,
		errorRate,
	)
}
