package rca

import "github.com/prometheus/client_golang/prometheus"

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_rca_analyses_total",
			Help: "Total number of root cause analyses by outcome",
		},
		[]string{"result"},
	)

	analysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentcore_rca_duration_seconds",
			Help:    "Time spent computing uncached analyses",
			Buckets: prometheus.DefBuckets,
		},
	)

	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcore_rca_cache_entries",
			Help: "Current number of cached analyses",
		},
	)
)

func init() {
	prometheus.MustRegister(analysesTotal, analysisDuration, cacheEntries)
}
