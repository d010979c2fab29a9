package breaker

import "github.com/prometheus/client_golang/prometheus"

var (
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentcore_breaker_state",
			Help: "Circuit breaker state per destination (0 closed, 1 open, 2 half-open)",
		},
		[]string{"destination"},
	)

	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"destination", "to"},
	)

	breakerRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_breaker_rejected_total",
			Help: "Total number of calls rejected without invoking the destination",
		},
		[]string{"destination"},
	)
)

func init() {
	prometheus.MustRegister(breakerState, breakerTransitions, breakerRejected)
}
