// Package monitor aggregates reported agent errors, derives recovery
// recommendations and raises alerts when error streams cross rule thresholds.
package monitor

import (
	"sync"
	"time"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// CollectorConfig bounds the in-memory error buffers
type CollectorConfig struct {
	MaxReports int // Reports kept, oldest evicted first (default 10000)
	MaxTrends  int // Trend points kept, oldest evicted first (default 1000)
	Clock      func() time.Time
}

// DefaultCollectorConfig returns default collector configuration
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		MaxReports: 10000,
		MaxTrends:  1000,
	}
}

// Trend is the minimal record used for rate and pattern computation
type Trend struct {
	Timestamp time.Time       `json:"timestamp"`
	Kind      errors.Kind     `json:"kind"`
	Severity  errors.Severity `json:"severity"`
	Origin    string          `json:"origin"`
}

// Stats summarizes the live report buffer
type Stats struct {
	Total      int                     `json:"total"`
	ByKind     map[errors.Kind]int     `json:"by_kind"`
	BySeverity map[errors.Severity]int `json:"by_severity"`
	ByOrigin   map[string]int          `json:"by_origin"`
	LastHour   int                     `json:"last_hour"`
	LastMinute int                     `json:"last_minute"`
	// ErrorRate is the count over the trailing 60 seconds, not a sliding average.
	ErrorRate float64 `json:"error_rate"`
}

// Collector is an append-with-cap store of error reports and trend points
type Collector struct {
	cfg     CollectorConfig
	reports *errors.Ring[*errors.Report]
	trends  *errors.Ring[Trend]

	// mu guards Report.Resolved
	mu sync.RWMutex
}

// NewCollector creates a collector
func NewCollector(cfg CollectorConfig) *Collector {
	d := DefaultCollectorConfig()
	if cfg.MaxReports <= 0 {
		cfg.MaxReports = d.MaxReports
	}
	if cfg.MaxTrends <= 0 {
		cfg.MaxTrends = d.MaxTrends
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Collector{
		cfg:     cfg,
		reports: errors.NewRing[*errors.Report](cfg.MaxReports),
		trends:  errors.NewRing[Trend](cfg.MaxTrends),
	}
}

// Collect records err with extra context and returns the stored report
func (c *Collector) Collect(err *errors.AgentError, extra map[string]any) *errors.Report {
	report := errors.NewReport(err, extra, c.cfg.Clock())

	c.reports.Add(report)
	c.trends.Add(Trend{
		Timestamp: report.OccurredAt(),
		Kind:      report.Kind,
		Severity:  report.Severity,
		Origin:    report.Origin,
	})
	return report
}

// Stats computes counts over the live buffer
func (c *Collector) Stats() Stats {
	now := c.cfg.Clock()
	hourAgo := now.Add(-time.Hour)
	minuteAgo := now.Add(-time.Minute)

	stats := Stats{
		ByKind:     make(map[errors.Kind]int),
		BySeverity: make(map[errors.Severity]int),
		ByOrigin:   make(map[string]int),
	}
	for _, r := range c.reports.All() {
		stats.Total++
		stats.ByKind[r.Kind]++
		stats.BySeverity[r.Severity]++
		stats.ByOrigin[r.Origin]++

		at := r.OccurredAt()
		if at.After(hourAgo) {
			stats.LastHour++
		}
		if at.After(minuteAgo) {
			stats.LastMinute++
		}
	}
	stats.ErrorRate = float64(stats.LastMinute)
	return stats
}

// Trends returns trend points newer than now-window, oldest first
func (c *Collector) Trends(window time.Duration) []Trend {
	cutoff := c.cfg.Clock().Add(-window)
	all := c.trends.All()
	out := make([]Trend, 0, len(all))
	for _, t := range all {
		if t.Timestamp.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// Get returns a copy of the report with id
func (c *Collector) Get(id string) (errors.Report, bool) {
	r, ok := c.reports.Find(func(r *errors.Report) bool { return r.ID == id })
	if !ok {
		return errors.Report{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *r, true
}

// Recent returns copies of the n most recent reports, oldest first
func (c *Collector) Recent(n int) []errors.Report {
	last := c.reports.Last(n)
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]errors.Report, len(last))
	for i, r := range last {
		out[i] = *r
	}
	return out
}

// MarkResolved flips the resolved flag of report id
func (c *Collector) MarkResolved(id string) bool {
	r, ok := c.reports.Find(func(r *errors.Report) bool { return r.ID == id })
	if !ok {
		return false
	}
	c.mu.Lock()
	r.Resolved = true
	c.mu.Unlock()
	return true
}

// Cleanup purges reports and trend points older than maxAge and returns how
// many reports were removed.
func (c *Collector) Cleanup(maxAge time.Duration) int {
	cutoff := c.cfg.Clock().Add(-maxAge)
	n := c.reports.RemoveFunc(func(r *errors.Report) bool { return r.OccurredAt().Before(cutoff) })
	c.trends.RemoveFunc(func(t Trend) bool { return t.Timestamp.Before(cutoff) })
	return n
}

// Len returns the number of buffered reports
func (c *Collector) Len() int {
	return c.reports.Len()
}
