package app

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/agentcore/pkg/config"
	agenterrors "github.com/armorclaw/agentcore/pkg/errors"
	"github.com/armorclaw/agentcore/pkg/eventbus"
	"github.com/armorclaw/agentcore/pkg/monitor"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Logging.Format = "text"
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.Ops.ListenAddr = "127.0.0.1:0"
	cfg.Ops.Mode = "test"
	return cfg
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

// recorder collects events delivered to one subscription
type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recorder) handle(_ context.Context, e eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) all() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventbus.Event(nil), r.events...)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.Level = "loud"

	_, err := New(cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNew_OptionalComponentsDisabled(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.History.Enabled = false
		c.Ops.Enabled = false
	})

	assert.Nil(t, a.History())
	assert.Nil(t, a.Ops())
	assert.NotNil(t, a.Monitor())
	assert.NotNil(t, a.Bus())
	assert.NotNil(t, a.Analyzer())
}

func TestAgentErrorEventReachesMonitorAndHistory(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	event := eventbus.NewEvent(eventbus.EventTypeAgentError, "chat-agent", map[string]any{
		"error": map[string]any{
			"kind":    "timeout",
			"message": "model call exceeded 30s",
		},
		"context": map[string]any{"model": "large"},
	})
	event.CorrelationID = "req-42"
	require.NoError(t, a.Bus().Publish(ctx, event))

	recent := a.Monitor().Collector().Recent(10)
	require.Len(t, recent, 1)
	r := recent[0]
	assert.Equal(t, agenterrors.KindTimeout, r.Kind)
	assert.Equal(t, agenterrors.SeverityMedium, r.Severity)
	assert.Equal(t, "chat-agent", r.Origin)
	assert.Equal(t, "large", r.Context["model"])

	stored, err := a.History().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, stored.ID)
	assert.Equal(t, "req-42", stored.Error.CorrelationID)
}

func TestErrorEventDoesNotMutateCallerError(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Ops.Enabled = false })

	ae := agenterrors.NewBuilder(agenterrors.KindRateLimit).
		Message("image provider returned 429").
		Build()
	require.NoError(t, a.Bus().Publish(context.Background(), ErrorEvent("poster-agent", ae, nil)))

	assert.Empty(t, ae.Origin)
	recent := a.Monitor().Collector().Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "poster-agent", recent[0].Origin)
}

func TestMalformedErrorEventsKeepIngressOpen(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Ops.Enabled = false })
	ctx := context.Background()

	threshold := a.Config().Breaker.FailureThreshold
	for i := 0; i < threshold+2; i++ {
		bad := eventbus.NewEvent(eventbus.EventTypeAgentError, "flaky-agent", map[string]any{"error": "garbage"})
		require.NoError(t, a.Bus().Publish(ctx, bad))
	}

	stats := a.Bus().Stats()
	assert.Equal(t, 0, stats.Router.FailedEventsCount)
	subs := a.Bus().Router().Subscriptions(eventbus.EventTypeAgentError)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Active)

	malformed := a.Monitor().Collector().Recent(threshold + 2)
	require.Len(t, malformed, threshold+2)
	for _, r := range malformed {
		assert.Equal(t, agenterrors.KindParse, r.Kind)
		assert.Equal(t, "APP-001", r.Error.Code)
		assert.Equal(t, "flaky-agent", r.Context["event_source"])
	}

	for i := 0; i < 3; i++ {
		valid := ErrorEvent("chat-agent", agenterrors.New(agenterrors.KindTimeout, "model call exceeded 30s"), nil)
		require.NoError(t, a.Bus().Publish(ctx, valid))
	}
	assert.Equal(t, threshold+5, a.Monitor().Collector().Len())
}

func TestCriticalErrorPublishesAlert(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Ops.Enabled = false })

	var alerts recorder
	_, err := a.Bus().Subscribe(eventbus.EventTypeMonitorAlert, "pager", alerts.handle, 0)
	require.NoError(t, err)

	critical := agenterrors.NewBuilder(agenterrors.KindSystem).
		Origin("cad-agent").
		Severity(agenterrors.SeverityCritical).
		Message("renderer crashed").
		Build()
	require.NoError(t, a.Bus().Publish(context.Background(), ErrorEvent("cad-agent", critical, nil)))

	var found bool
	for _, e := range alerts.all() {
		assert.Equal(t, Source, e.Source)
		alert, ok := e.Data["alert"].(monitor.AlertEvent)
		require.True(t, ok)
		if alert.RuleID == monitor.RuleCriticalError {
			found = true
			assert.Equal(t, agenterrors.SeverityCritical, alert.Severity)
		}
	}
	assert.True(t, found, "critical_error alert not published")
}

func TestAnalysisPublishesCompletion(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Ops.Enabled = false })
	ctx := context.Background()

	var done recorder
	_, err := a.Bus().Subscribe(eventbus.EventTypeAnalysisReady, "dashboard", done.handle, 0)
	require.NoError(t, err)

	id, err := a.Monitor().Report(ctx, agenterrors.New(agenterrors.KindServiceUnavailable, "render farm offline"), nil)
	require.NoError(t, err)
	report, err := a.History().Get(ctx, id)
	require.NoError(t, err)

	analysis, err := a.Analyzer().Analyze(ctx, report)
	require.NoError(t, err)
	_, err = a.Analyzer().Analyze(ctx, report)
	require.NoError(t, err)

	got := done.all()
	require.Len(t, got, 1)
	assert.Equal(t, analysis.ID, got[0].Data["analysis_id"])
	assert.Equal(t, id, got[0].Data["error_id"])
}

func TestOpsServerServesHealth(t *testing.T) {
	a := newTestApp(t, nil)
	require.NotNil(t, a.Ops())

	resp, err := http.Get("http://" + a.Ops().Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStopIsFinal(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
	require.NoError(t, a.Stop(ctx))
	assert.Error(t, a.Start(ctx))
}

func TestDecodeAgentError(t *testing.T) {
	built := agenterrors.New(agenterrors.KindParse, "bad dxf")

	tests := []struct {
		name     string
		in       any
		wantKind agenterrors.Kind
		wantSev  agenterrors.Severity
		wantErr  bool
	}{
		{"agent error", built, agenterrors.KindParse, built.Severity, false},
		{"json object", map[string]any{"kind": "authentication", "message": "token expired"}, agenterrors.KindAuthentication, agenterrors.SeverityHigh, false},
		{"explicit severity", map[string]any{"kind": "timeout", "severity": "critical"}, agenterrors.KindTimeout, agenterrors.SeverityCritical, false},
		{"missing kind", map[string]any{"message": "?"}, "", "", true},
		{"wrong shape", "just a string", "", "", true},
		{"nil", nil, "", "", true},
		{"typed nil", (*agenterrors.AgentError)(nil), "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAgentError(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, agenterrors.KindParse, agenterrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantSev, got.Severity)
		})
	}
}

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 10m0s", every(10*time.Minute))
	assert.Equal(t, "@every 6h0m0s", every(6*time.Hour))
}
