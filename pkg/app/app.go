// Package app wires the error monitor, event bus, root cause analyzer, error
// history and ops surface into one process and owns their lifecycle.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/armorclaw/agentcore/pkg/config"
	agenterrors "github.com/armorclaw/agentcore/pkg/errors"
	"github.com/armorclaw/agentcore/pkg/eventbus"
	"github.com/armorclaw/agentcore/pkg/history"
	"github.com/armorclaw/agentcore/pkg/logger"
	"github.com/armorclaw/agentcore/pkg/monitor"
	"github.com/armorclaw/agentcore/pkg/ops"
	"github.com/armorclaw/agentcore/pkg/rca"
)

const (
	// Source is the event source of everything the core publishes itself
	Source = "agentcore"

	// monitorDestination subscribes the monitor to agent error events
	monitorDestination = "monitor"

	cleanupTimeout = time.Minute
)

// Option configures an App
type Option func(*App)

// WithLogger overrides the process logger
func WithLogger(l *logger.Logger) Option {
	return func(a *App) { a.log = l }
}

// App owns every long-lived component
type App struct {
	cfg *config.Config
	log *logger.Logger

	history  *history.Store
	monitor  *monitor.Monitor
	bus      *eventbus.EventBus
	analyzer *rca.Analyzer
	ops      *ops.Server
	cron     *cron.Cron

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds the components described by cfg. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	a.log = logger.Or(a.log)
	log := a.log.WithComponent("app")

	var reports ops.ReportLookup
	var related rca.History
	monOpts := []monitor.Option{monitor.WithAlertSink(a.publishAlert)}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.ToHistoryConfig(), a.log)
		if err != nil {
			return nil, err
		}
		a.history = store
		reports = store
		related = store
		monOpts = append(monOpts, monitor.WithReportSink(store))
	}

	a.monitor = monitor.New(cfg.ToMonitorConfig(), a.log, monOpts...)
	a.bus = eventbus.New(cfg.ToBusConfig(), a.log)

	if _, err := a.bus.Subscribe(eventbus.EventTypeAgentError, monitorDestination, a.ingestAgentError, 100); err != nil {
		_ = a.closeHistory()
		return nil, fmt.Errorf("failed to subscribe monitor to agent errors: %w", err)
	}

	a.analyzer = rca.New(cfg.ToRCAConfig(), related, a.log, rca.WithCompletionHook(a.publishAnalysis))

	if cfg.Ops.Enabled {
		a.ops = ops.New(cfg.ToOpsConfig(), ops.Deps{
			Monitor:  a.monitor,
			Bus:      a.bus,
			Analyzer: a.analyzer,
			Reports:  reports,
		}, a.log)
	}

	if err := a.scheduleJobs(); err != nil {
		_ = a.closeHistory()
		return nil, err
	}

	log.Info("components initialized",
		"history", a.history != nil,
		"ops", a.ops != nil)
	return a, nil
}

func (a *App) scheduleJobs() error {
	cl := cronLogger{log: a.log.WithComponent("cron")}
	a.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := a.cron.AddFunc(every(a.cfg.RCA.SweepInterval.Duration), func() {
		a.analyzer.Sweep()
	}); err != nil {
		return fmt.Errorf("failed to schedule analysis cache sweep: %w", err)
	}

	if a.history != nil {
		if _, err := a.cron.AddFunc(every(a.cfg.History.CleanupInterval.Duration), a.cleanupHistory); err != nil {
			return fmt.Errorf("failed to schedule history cleanup: %w", err)
		}
	}
	return nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

func (a *App) cleanupHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	n, err := a.history.Cleanup(ctx)
	if err != nil {
		a.log.Warn("history cleanup failed", "error", err)
		return
	}
	if n > 0 {
		a.log.Info("history cleanup removed resolved reports", "removed", n)
	}
}

// Start launches bus sweeps, the monitoring loop, scheduled jobs and the ops
// server
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return fmt.Errorf("app already stopped")
	}
	if a.started {
		return nil
	}

	if err := a.bus.Start(); err != nil {
		return err
	}
	if err := a.monitor.Start(a.cfg.Monitor.Interval.Duration); err != nil {
		a.bus.Stop()
		return err
	}
	a.cron.Start()

	if a.ops != nil {
		if err := a.ops.Start(); err != nil {
			<-a.cron.Stop().Done()
			a.monitor.Stop()
			a.bus.Stop()
			return err
		}
	}

	a.started = true
	a.log.Info("agentcore started")
	return nil
}

// Stop shuts components down in reverse start order. The App cannot be
// restarted.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return nil
	}
	a.stopped = true

	var firstErr error
	if a.ops != nil {
		if err := a.ops.Stop(ctx); err != nil {
			a.log.Warn("ops server shutdown failed", "error", err)
			firstErr = err
		}
	}

	select {
	case <-a.cron.Stop().Done():
	case <-ctx.Done():
		a.log.Warn("scheduled jobs still running at shutdown")
	}

	a.monitor.Stop()
	a.bus.Stop()

	if err := a.closeHistory(); err != nil && firstErr == nil {
		firstErr = err
	}

	a.log.Info("agentcore stopped")
	return firstErr
}

func (a *App) closeHistory() error {
	if a.history == nil {
		return nil
	}
	if err := a.history.Close(); err != nil {
		a.log.Warn("failed to close history", "error", err)
		return err
	}
	return nil
}

// ingestAgentError feeds agent.error events into the monitor. The payload
// carries the error under "error" and optional context under "context".
// Undecodable payloads are reported as APP-001 and never fail the delivery,
// so bad publishers cannot trip the monitor's breaker.
func (a *App) ingestAgentError(ctx context.Context, event eventbus.Event) error {
	ae, err := DecodeAgentError(event.Data["error"])
	if err != nil {
		a.log.Warn("dropping malformed agent error event",
			"event_id", event.ID, "source", event.Source, "error", err)
		if _, rerr := a.monitor.Report(ctx, err, map[string]any{
			"event_id":     event.ID,
			"event_source": event.Source,
		}); rerr != nil {
			a.log.Warn("failed to report malformed agent error event", "event_id", event.ID, "error", rerr)
		}
		return nil
	}
	if (ae.Origin == "" && event.Source != "") || (ae.CorrelationID == "" && event.CorrelationID != "") {
		cp := *ae
		if cp.Origin == "" {
			cp.Origin = event.Source
		}
		if cp.CorrelationID == "" {
			cp.CorrelationID = event.CorrelationID
		}
		ae = &cp
	}

	extra, _ := event.Data["context"].(map[string]any)
	if _, err := a.monitor.Report(ctx, ae, extra); err != nil {
		a.log.Warn("failed to report agent error", "event_id", event.ID, "error", err)
	}
	return nil
}

// DecodeAgentError accepts either an *AgentError or its JSON object form, as
// carried in event data
func DecodeAgentError(v any) (*agenterrors.AgentError, error) {
	switch e := v.(type) {
	case *agenterrors.AgentError:
		if e == nil {
			break
		}
		return e, nil
	case nil:
	default:
		data, err := json.Marshal(e)
		if err != nil {
			return nil, errInvalidPayload(err)
		}
		var ae agenterrors.AgentError
		if err := json.Unmarshal(data, &ae); err != nil {
			return nil, errInvalidPayload(err)
		}
		if ae.Kind == "" {
			return nil, errInvalidPayload(fmt.Errorf("error.kind is required"))
		}
		if !ae.Severity.Valid() {
			ae.Severity = agenterrors.Lookup(ae.Kind).DefaultSeverity
		}
		return &ae, nil
	}
	return nil, errInvalidPayload(fmt.Errorf("event carries no error"))
}

// ErrorEvent builds the agent.error event an agent publishes to report err
func ErrorEvent(source string, err *agenterrors.AgentError, extra map[string]any) eventbus.Event {
	data := map[string]any{"error": err}
	if len(extra) > 0 {
		data["context"] = extra
	}
	return eventbus.NewEvent(eventbus.EventTypeAgentError, source, data)
}

func errInvalidPayload(cause error) error {
	return agenterrors.NewBuilder(agenterrors.KindParse).
		Code("APP-001").
		Origin("app").
		Severity(agenterrors.SeverityLow).
		Message("invalid agent error payload").
		Wrap(cause).
		Build()
}

func (a *App) publishAlert(ctx context.Context, alert monitor.AlertEvent) {
	event := eventbus.NewEvent(eventbus.EventTypeMonitorAlert, Source, map[string]any{
		"alert": alert,
	})
	if err := a.bus.Publish(ctx, event); err != nil {
		a.log.Debug("alert not published", "alert_id", alert.ID, "error", err)
	}
}

func (a *App) publishAnalysis(ctx context.Context, analysis *rca.Analysis) {
	event := eventbus.NewEvent(eventbus.EventTypeAnalysisReady, Source, map[string]any{
		"analysis_id": analysis.ID,
		"error_id":    analysis.ErrorID,
		"category":    analysis.RootCause.Category,
		"confidence":  analysis.RootCause.Confidence,
		"impact":      analysis.Impact.BusinessImpact,
	})
	if err := a.bus.Publish(ctx, event); err != nil {
		a.log.Debug("analysis not published", "analysis_id", analysis.ID, "error", err)
	}
}

// Config returns the configuration the app was built with
func (a *App) Config() *config.Config { return a.cfg }

// Monitor returns the error monitor
func (a *App) Monitor() *monitor.Monitor { return a.monitor }

// Bus returns the event bus
func (a *App) Bus() *eventbus.EventBus { return a.bus }

// Analyzer returns the root cause analyzer
func (a *App) Analyzer() *rca.Analyzer { return a.analyzer }

// History returns the history store, or nil when disabled
func (a *App) History() *history.Store { return a.history }

// Ops returns the ops server, or nil when disabled
func (a *App) Ops() *ops.Server { return a.ops }

// cronLogger adapts the structured logger to cron's logging interface
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
