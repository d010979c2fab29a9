package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// Default rule identifiers
const (
	RuleHighErrorRate      = "high_error_rate"
	RuleCriticalError      = "critical_error"
	RuleSystemErrorSpike   = "system_error_spike"
	RuleCommunicationSpike = "communication_spike"
)

// AlertCondition evaluates a rule against the current stats and trend window
type AlertCondition func(stats Stats, trends []Trend, now time.Time) bool

// AlertRule triggers an alert when Condition holds, at most once per Cooldown
type AlertRule struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Severity      errors.Severity `json:"severity"`
	Cooldown      time.Duration   `json:"cooldown"`
	Active        bool            `json:"active"`
	LastTriggered time.Time       `json:"last_triggered,omitempty"`
	Condition     AlertCondition  `json:"-"`
}

// AlertEvent is one triggered alert
type AlertEvent struct {
	ID        string          `json:"id"`
	RuleID    string          `json:"rule_id"`
	RuleName  string          `json:"rule_name"`
	Severity  errors.Severity `json:"severity"`
	Message   string          `json:"message"`
	ErrorRate float64         `json:"error_rate"`
	Timestamp time.Time       `json:"timestamp"`
	Resolved  bool            `json:"resolved"`
	Data      AlertData       `json:"data"`
}

// AlertData is the evidence a rule was evaluated against
type AlertData struct {
	Stats       Stats `json:"stats"`
	TrendPoints int   `json:"trend_points"`
}

// AlertConfig configures the alert manager
type AlertConfig struct {
	MaxAlerts int // Alert log cap, oldest evicted first (default 1000)
	Clock     func() time.Time
}

// DefaultAlertConfig returns default alert manager configuration
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{MaxAlerts: 1000}
}

// DefaultRules returns the built-in alert rules
func DefaultRules() []AlertRule {
	return []AlertRule{
		{
			ID:       RuleHighErrorRate,
			Name:     "High error rate",
			Severity: errors.SeverityHigh,
			Cooldown: 5 * time.Minute,
			Active:   true,
			Condition: func(stats Stats, _ []Trend, _ time.Time) bool {
				return stats.ErrorRate > 10
			},
		},
		{
			ID:       RuleCriticalError,
			Name:     "Critical error",
			Severity: errors.SeverityCritical,
			Cooldown: time.Minute,
			Active:   true,
			Condition: func(_ Stats, trends []Trend, now time.Time) bool {
				return countTrends(trends, now.Add(-5*time.Minute), func(t Trend) bool {
					return t.Severity == errors.SeverityCritical
				}) > 0
			},
		},
		{
			ID:       RuleSystemErrorSpike,
			Name:     "System error spike",
			Severity: errors.SeverityHigh,
			Cooldown: 10 * time.Minute,
			Active:   true,
			Condition: func(_ Stats, trends []Trend, now time.Time) bool {
				return countTrends(trends, now.Add(-10*time.Minute), func(t Trend) bool {
					return t.Kind == errors.KindSystem
				}) > 5
			},
		},
		{
			ID:       RuleCommunicationSpike,
			Name:     "Communication error spike",
			Severity: errors.SeverityMedium,
			Cooldown: 5 * time.Minute,
			Active:   true,
			Condition: func(_ Stats, trends []Trend, now time.Time) bool {
				return countTrends(trends, now.Add(-5*time.Minute), func(t Trend) bool {
					return t.Kind == errors.KindCommunication
				}) > 3
			},
		},
	}
}

func countTrends(trends []Trend, since time.Time, pred func(Trend) bool) int {
	n := 0
	for _, t := range trends {
		if t.Timestamp.After(since) && pred(t) {
			n++
		}
	}
	return n
}

// AlertManager evaluates rules and keeps a bounded alert log
type AlertManager struct {
	clock func() time.Time

	mu     sync.Mutex
	rules  []*AlertRule
	alerts *errors.Ring[*AlertEvent]
}

// NewAlertManager creates a manager with the given rules
func NewAlertManager(cfg AlertConfig, rules []AlertRule) *AlertManager {
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = DefaultAlertConfig().MaxAlerts
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	m := &AlertManager{
		clock:  cfg.Clock,
		alerts: errors.NewRing[*AlertEvent](cfg.MaxAlerts),
	}
	for _, r := range rules {
		r := r
		m.rules = append(m.rules, &r)
	}
	return m
}

// AddRule registers a rule, replacing any rule with the same id
func (m *AlertManager) AddRule(rule AlertRule) error {
	if rule.ID == "" || rule.Condition == nil {
		return errors.NewBuilder(errors.KindSystem).
			Code("MON-001").
			Origin("monitor").
			Severity(errors.SeverityLow).
			Message("alert rule needs an id and a condition").
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.rules {
		if r.ID == rule.ID {
			m.rules[i] = &rule
			return nil
		}
	}
	m.rules = append(m.rules, &rule)
	return nil
}

// ToggleRule enables or disables a rule without removing it
func (m *AlertManager) ToggleRule(id string, active bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rules {
		if r.ID == id {
			r.Active = active
			return true
		}
	}
	return false
}

// Check evaluates every active rule outside its cooldown and returns the
// alerts triggered by this call.
func (m *AlertManager) Check(stats Stats, trends []Trend) []AlertEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	var triggered []AlertEvent
	for _, r := range m.rules {
		if !r.Active {
			continue
		}
		if !r.LastTriggered.IsZero() && now.Sub(r.LastTriggered) < r.Cooldown {
			continue
		}
		if !r.Condition(stats, trends, now) {
			continue
		}

		ev := &AlertEvent{
			ID:        uuid.NewString(),
			RuleID:    r.ID,
			RuleName:  r.Name,
			Severity:  r.Severity,
			Message:   alertMessage(r, stats, trends, now),
			ErrorRate: stats.ErrorRate,
			Timestamp: now,
			Data:      AlertData{Stats: stats, TrendPoints: len(trends)},
		}
		m.alerts.Add(ev)
		r.LastTriggered = now
		triggered = append(triggered, *ev)

		alertsTriggered.WithLabelValues(r.ID, string(r.Severity)).Inc()
	}
	activeAlerts.Set(float64(m.activeCountLocked()))
	return triggered
}

func alertMessage(r *AlertRule, stats Stats, trends []Trend, now time.Time) string {
	switch r.ID {
	case RuleHighErrorRate:
		return fmt.Sprintf("High error rate detected: %.0f errors in the last minute", stats.ErrorRate)
	case RuleCriticalError:
		return "Critical error detected in the last 5 minutes"
	case RuleSystemErrorSpike:
		n := countTrends(trends, now.Add(-10*time.Minute), func(t Trend) bool { return t.Kind == errors.KindSystem })
		return fmt.Sprintf("System error spike: %d system errors in the last 10 minutes", n)
	case RuleCommunicationSpike:
		n := countTrends(trends, now.Add(-5*time.Minute), func(t Trend) bool { return t.Kind == errors.KindCommunication })
		return fmt.Sprintf("Communication error spike: %d errors in the last 5 minutes", n)
	default:
		return fmt.Sprintf("Alert rule %s triggered", r.Name)
	}
}

// ResolveAlert marks alert id resolved
func (m *AlertManager) ResolveAlert(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.alerts.Find(func(a *AlertEvent) bool { return a.ID == id })
	if !ok {
		return false
	}
	ev.Resolved = true
	activeAlerts.Set(float64(m.activeCountLocked()))
	return true
}

func (m *AlertManager) activeCountLocked() int {
	n := 0
	for _, a := range m.alerts.All() {
		if !a.Resolved {
			n++
		}
	}
	return n
}

// ActiveAlerts returns unresolved alerts, oldest first
func (m *AlertManager) ActiveAlerts() []AlertEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []AlertEvent
	for _, a := range m.alerts.All() {
		if !a.Resolved {
			out = append(out, *a)
		}
	}
	return out
}

// Alerts returns the n most recent alerts, oldest first. n <= 0 returns all.
func (m *AlertManager) Alerts(n int) []AlertEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	last := m.alerts.Last(n)
	out := make([]AlertEvent, len(last))
	for i, a := range last {
		out[i] = *a
	}
	return out
}

// Rules returns copies of the registered rules sorted by id
func (m *AlertManager) Rules() []AlertRule {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AlertRule, len(m.rules))
	for i, r := range m.rules {
		out[i] = *r
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
