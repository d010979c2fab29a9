package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/agentcore/pkg/errors"
)

func rateRule(cooldown time.Duration) AlertRule {
	return AlertRule{
		ID:       "rate_over_10",
		Name:     "Rate over 10",
		Severity: errors.SeverityHigh,
		Cooldown: cooldown,
		Active:   true,
		Condition: func(stats Stats, _ []Trend, _ time.Time) bool {
			return stats.ErrorRate > 10
		},
	}
}

func TestAlertManager_Cooldown(t *testing.T) {
	clock := newFakeClock()
	m := NewAlertManager(AlertConfig{Clock: clock.Now}, []AlertRule{rateRule(5 * time.Minute)})
	stats := Stats{ErrorRate: 15}

	first := m.Check(stats, nil)
	require.Len(t, first, 1)
	assert.Equal(t, "rate_over_10", first[0].RuleID)
	assert.Equal(t, "Alert rule Rate over 10 triggered", first[0].Message)

	assert.Empty(t, m.Check(stats, nil))

	clock.Advance(4 * time.Minute)
	assert.Empty(t, m.Check(stats, nil))

	clock.Advance(time.Minute)
	assert.Len(t, m.Check(stats, nil), 1)
	assert.Len(t, m.Alerts(0), 2)
}

func TestAlertManager_ConditionFalse(t *testing.T) {
	m := NewAlertManager(AlertConfig{}, []AlertRule{rateRule(time.Minute)})
	assert.Empty(t, m.Check(Stats{ErrorRate: 10}, nil))
	assert.True(t, m.Rules()[0].LastTriggered.IsZero())
}

func TestDefaultRules(t *testing.T) {
	clock := newFakeClock()
	now := clock.Now()

	tests := []struct {
		name   string
		stats  Stats
		trends []Trend
		want   []string
	}{
		{
			name:  "high error rate",
			stats: Stats{ErrorRate: 11},
			want:  []string{RuleHighErrorRate},
		},
		{
			name:   "recent critical",
			trends: []Trend{{Timestamp: now.Add(-time.Minute), Severity: errors.SeverityCritical}},
			want:   []string{RuleCriticalError},
		},
		{
			name:   "stale critical",
			trends: []Trend{{Timestamp: now.Add(-6 * time.Minute), Severity: errors.SeverityCritical}},
		},
		{
			name:   "system spike",
			trends: repeatTrend(6, Trend{Timestamp: now.Add(-time.Minute), Kind: errors.KindSystem, Severity: errors.SeverityHigh}),
			want:   []string{RuleSystemErrorSpike},
		},
		{
			name:   "system below spike",
			trends: repeatTrend(5, Trend{Timestamp: now.Add(-time.Minute), Kind: errors.KindSystem, Severity: errors.SeverityHigh}),
		},
		{
			name:   "communication spike",
			trends: repeatTrend(4, Trend{Timestamp: now.Add(-time.Minute), Kind: errors.KindCommunication, Severity: errors.SeverityMedium}),
			want:   []string{RuleCommunicationSpike},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewAlertManager(AlertConfig{Clock: clock.Now}, DefaultRules())
			var got []string
			for _, a := range m.Check(tt.stats, tt.trends) {
				got = append(got, a.RuleID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func repeatTrend(n int, t Trend) []Trend {
	out := make([]Trend, n)
	for i := range out {
		out[i] = t
	}
	return out
}

func TestAlertManager_AlertCarriesEvaluatedData(t *testing.T) {
	clock := newFakeClock()
	m := NewAlertManager(AlertConfig{Clock: clock.Now}, []AlertRule{rateRule(time.Minute)})

	stats := Stats{
		Total:      42,
		ByKind:     map[errors.Kind]int{errors.KindTimeout: 42},
		LastMinute: 15,
		ErrorRate:  15,
	}
	trends := []Trend{
		{Timestamp: clock.Now(), Kind: errors.KindTimeout, Severity: errors.SeverityMedium},
		{Timestamp: clock.Now(), Kind: errors.KindTimeout, Severity: errors.SeverityMedium},
		{Timestamp: clock.Now(), Kind: errors.KindTimeout, Severity: errors.SeverityMedium},
	}

	alerts := m.Check(stats, trends)
	require.Len(t, alerts, 1)
	assert.Equal(t, stats, alerts[0].Data.Stats)
	assert.Equal(t, 3, alerts[0].Data.TrendPoints)

	logged := m.Alerts(0)
	require.Len(t, logged, 1)
	assert.Equal(t, 42, logged[0].Data.Stats.Total)
}

func TestAlertManager_ToggleRule(t *testing.T) {
	m := NewAlertManager(AlertConfig{}, []AlertRule{rateRule(0)})

	assert.True(t, m.ToggleRule("rate_over_10", false))
	assert.Empty(t, m.Check(Stats{ErrorRate: 50}, nil))

	assert.True(t, m.ToggleRule("rate_over_10", true))
	assert.Len(t, m.Check(Stats{ErrorRate: 50}, nil), 1)

	assert.False(t, m.ToggleRule("missing", true))
}

func TestAlertManager_ResolveAlert(t *testing.T) {
	m := NewAlertManager(AlertConfig{}, []AlertRule{rateRule(0)})
	alerts := m.Check(Stats{ErrorRate: 50}, nil)
	require.Len(t, alerts, 1)
	require.Len(t, m.ActiveAlerts(), 1)

	assert.True(t, m.ResolveAlert(alerts[0].ID))
	assert.Empty(t, m.ActiveAlerts())
	assert.True(t, m.Alerts(1)[0].Resolved)
	assert.False(t, m.ResolveAlert("missing"))
}

func TestAlertManager_LogCapped(t *testing.T) {
	m := NewAlertManager(AlertConfig{MaxAlerts: 3}, []AlertRule{rateRule(0)})
	var ids []string
	for i := 0; i < 5; i++ {
		alerts := m.Check(Stats{ErrorRate: 50}, nil)
		require.Len(t, alerts, 1)
		ids = append(ids, alerts[0].ID)
	}

	all := m.Alerts(0)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[4], all[2].ID)
}

func TestAlertManager_AddRule(t *testing.T) {
	m := NewAlertManager(AlertConfig{}, nil)

	assert.Error(t, m.AddRule(AlertRule{ID: "no_condition"}))
	require.NoError(t, m.AddRule(rateRule(0)))

	replacement := rateRule(time.Hour)
	replacement.Name = "Replaced"
	require.NoError(t, m.AddRule(replacement))

	rules := m.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "Replaced", rules[0].Name)
	assert.Equal(t, time.Hour, rules[0].Cooldown)
}
