package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/armorclaw/agentcore/pkg/errors"
	"github.com/armorclaw/agentcore/pkg/logger"
)

// Config holds error monitor configuration
type Config struct {
	Collector      CollectorConfig
	Alerts         AlertConfig
	Interval       time.Duration // Alert re-evaluation and cleanup period (default 60s)
	Retention      time.Duration // Collector cleanup age (default 7 days)
	HealthMaxRate  float64       // Healthy only below this many errors per minute (default 5)
	TrendWindow    time.Duration // Window fed to alert rules (default 1h)
	ReportWindow   time.Duration // Trend window of GenerateReport (default 24h)
	RecentSamples  int           // Recent reports in GenerateReport (default 10)
	DisableDefault bool          // Start without the built-in alert rules
}

// DefaultConfig returns default monitor configuration
func DefaultConfig() Config {
	return Config{
		Collector:     DefaultCollectorConfig(),
		Alerts:        DefaultAlertConfig(),
		Interval:      60 * time.Second,
		Retention:     7 * 24 * time.Hour,
		HealthMaxRate: 5,
		TrendWindow:   time.Hour,
		ReportWindow:  24 * time.Hour,
		RecentSamples: 10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.HealthMaxRate <= 0 {
		c.HealthMaxRate = d.HealthMaxRate
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = d.TrendWindow
	}
	if c.ReportWindow <= 0 {
		c.ReportWindow = d.ReportWindow
	}
	if c.RecentSamples <= 0 {
		c.RecentSamples = d.RecentSamples
	}
	if c.Collector.Clock == nil {
		c.Collector.Clock = time.Now
	}
	if c.Alerts.Clock == nil {
		c.Alerts.Clock = c.Collector.Clock
	}
	return c
}

// ReportSink persists collected reports
type ReportSink interface {
	Save(ctx context.Context, report *errors.Report) error
}

// resolver is implemented by sinks that track resolution
type resolver interface {
	MarkResolved(ctx context.Context, id string) error
}

// AlertSink receives each newly triggered alert
type AlertSink func(ctx context.Context, alert AlertEvent)

// Option configures a Monitor
type Option func(*Monitor)

// WithReportSink persists every report through sink
func WithReportSink(sink ReportSink) Option {
	return func(m *Monitor) { m.sink = sink }
}

// WithAlertSink forwards triggered alerts to sink
func WithAlertSink(sink AlertSink) Option {
	return func(m *Monitor) { m.alertSink = sink }
}

// Report is the operator snapshot returned by GenerateReport
type Report struct {
	GeneratedAt  time.Time       `json:"generated_at"`
	Stats        Stats           `json:"stats"`
	Trends       []Trend         `json:"trends"`
	ActiveAlerts []AlertEvent    `json:"active_alerts"`
	RecentErrors []errors.Report `json:"recent_errors"`
}

// Health is the result of HealthCheck
type Health struct {
	Healthy              bool      `json:"healthy"`
	ErrorRate            float64   `json:"error_rate"`
	MaxErrorRate         float64   `json:"max_error_rate"`
	ActiveCriticalAlerts int       `json:"active_critical_alerts"`
	CheckedAt            time.Time `json:"checked_at"`
}

// Monitor is the single ingress for agent errors
type Monitor struct {
	cfg       Config
	collector *Collector
	alerts    *AlertManager
	sink      ReportSink
	alertSink AlertSink
	log       *logger.Logger
	events    *logger.EventLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates an error monitor
func New(cfg Config, log *logger.Logger, opts ...Option) *Monitor {
	cfg = cfg.withDefaults()

	var rules []AlertRule
	if !cfg.DisableDefault {
		rules = DefaultRules()
	}
	l := logger.Or(log).WithComponent("monitor")

	m := &Monitor{
		cfg:       cfg,
		collector: NewCollector(cfg.Collector),
		alerts:    NewAlertManager(cfg.Alerts, rules),
		log:       l,
		events:    logger.NewEventLogger(l),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Report records err with extra context, evaluates recommendations and alert
// rules, and returns the report id. Sink and alert failures are logged only.
func (m *Monitor) Report(ctx context.Context, err error, extra map[string]any) (string, error) {
	if err == nil {
		return "", errors.NewBuilder(errors.KindSystem).
			Code("MON-002").
			Origin("monitor").
			Severity(errors.SeverityLow).
			Message("cannot report a nil error").
			Build()
	}
	ae := errors.Wrap(errors.KindSystem, err)

	report := m.collector.Collect(ae, extra)
	errorsReported.WithLabelValues(string(report.Kind), string(report.Severity)).Inc()

	m.events.LogEvent(logger.EventErrorReported,
		slog.String("report_id", report.ID),
		slog.String("kind", string(report.Kind)),
		slog.String("severity", string(report.Severity)),
		slog.String("origin", report.Origin),
		slog.String("message", report.Message))

	if m.sink != nil {
		if serr := m.sink.Save(ctx, report); serr != nil {
			m.log.Warn("failed to persist error report", "report_id", report.ID, "error", serr)
		}
	}

	recs := Recommend(ae)
	if len(recs) > 0 {
		m.log.Debug("recovery recommendations",
			"report_id", report.ID,
			"top", recs[0].ID,
			"count", len(recs),
			"auto_recovery", recs[0].AutoRecovery)
	}

	m.evaluate(ctx)
	return report.ID, nil
}

// evaluate runs the alert rules over the current window
func (m *Monitor) evaluate(ctx context.Context) []AlertEvent {
	stats := m.collector.Stats()
	errorRate.Set(stats.ErrorRate)

	triggered := m.alerts.Check(stats, m.collector.Trends(m.cfg.TrendWindow))
	for _, a := range triggered {
		m.events.LogWarning(logger.EventAlertTriggered,
			slog.String("alert_id", a.ID),
			slog.String("rule_id", a.RuleID),
			slog.String("severity", string(a.Severity)),
			slog.String("message", a.Message))
		if m.alertSink != nil {
			m.alertSink(ctx, a)
		}
	}
	return triggered
}

// Start launches the periodic alert re-evaluation and cleanup loop. A
// non-positive interval uses the configured default.
func (m *Monitor) Start(interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	if interval <= 0 {
		interval = m.cfg.Interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.monitorLoop(ctx, interval)

	m.events.LogEvent(logger.EventMonitoringStarted,
		slog.Duration("interval", interval),
		slog.Duration("retention", m.cfg.Retention))
	return nil
}

// Stop cancels the monitoring loop and waits for it to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.events.LogEvent(logger.EventMonitoringStopped)
}

func (m *Monitor) monitorLoop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick performs one monitoring pass: alert evaluation then cleanup
func (m *Monitor) Tick(ctx context.Context) []AlertEvent {
	triggered := m.evaluate(ctx)
	if n := m.collector.Cleanup(m.cfg.Retention); n > 0 {
		m.log.Info("cleaned up old error reports", "count", n)
	}
	return triggered
}

// GenerateReport snapshots stats, trends, active alerts and recent errors
func (m *Monitor) GenerateReport() Report {
	return Report{
		GeneratedAt:  m.cfg.Collector.Clock(),
		Stats:        m.collector.Stats(),
		Trends:       m.collector.Trends(m.cfg.ReportWindow),
		ActiveAlerts: m.alerts.ActiveAlerts(),
		RecentErrors: m.collector.Recent(m.cfg.RecentSamples),
	}
}

// HealthCheck is healthy with no active critical alerts and an error rate
// below the configured maximum.
func (m *Monitor) HealthCheck() Health {
	stats := m.collector.Stats()
	critical := 0
	for _, a := range m.alerts.ActiveAlerts() {
		if a.Severity == errors.SeverityCritical {
			critical++
		}
	}
	return Health{
		Healthy:              critical == 0 && stats.ErrorRate < m.cfg.HealthMaxRate,
		ErrorRate:            stats.ErrorRate,
		MaxErrorRate:         m.cfg.HealthMaxRate,
		ActiveCriticalAlerts: critical,
		CheckedAt:            m.cfg.Collector.Clock(),
	}
}

// MarkResolved resolves a collected report and, when supported, its
// persisted copy.
func (m *Monitor) MarkResolved(ctx context.Context, id string) bool {
	ok := m.collector.MarkResolved(id)
	if r, isResolver := m.sink.(resolver); isResolver {
		if err := r.MarkResolved(ctx, id); err != nil {
			m.log.Warn("failed to resolve persisted report", "report_id", id, "error", err)
		} else {
			ok = true
		}
	}
	return ok
}

// Recommendations returns recovery actions for err
func (m *Monitor) Recommendations(err error) []Recommendation {
	if err == nil {
		return nil
	}
	return Recommend(errors.Wrap(errors.KindSystem, err))
}

// Collector exposes the underlying collector
func (m *Monitor) Collector() *Collector {
	return m.collector
}

// Alerts exposes the alert manager
func (m *Monitor) Alerts() *AlertManager {
	return m.alerts
}
